package pipeline

import (
	"errors"
	"fmt"
)

// ErrTemplate marks a command or output template that cannot be resolved for
// a sample.
var ErrTemplate = errors.New("template error")

// TemplateError reports a render failure for one (sample, stage) pair.
type TemplateError struct {
	Stage  string
	Sample string
	Field  string
	Err    error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s: stage %s sample %s: %s: %v", ErrTemplate, e.Stage, e.Sample, e.Field, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTemplate.
func (e *TemplateError) Is(target error) bool { return target == ErrTemplate }

// ErrStageDefinition marks an invalid stage list.
var ErrStageDefinition = errors.New("invalid stage definition")

func stageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStageDefinition, fmt.Sprintf(format, args...))
}
