package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"imcflow/internal/config"
	"imcflow/internal/manifest"
	"imcflow/internal/textutil"
)

// Globals are the run-wide values available to every template. Empty
// optional values are withheld from templates so that referencing them is a
// render error.
type Globals struct {
	ProcessedDir string
	ModelPath    string
	Executable   string
	Invocation   string
	PipelinePath string
	// Previous is the expected output of the preceding stage of the same
	// sample, set by the caller while walking a sample's stages.
	Previous string
}

// GlobalsFromConfig collects template values from cfg.
func GlobalsFromConfig(cfg *config.Config) Globals {
	return Globals{
		ProcessedDir: cfg.Paths.ProcessedDir,
		ModelPath:    cfg.Segmentation.ModelPath,
		Executable:   cfg.Segmentation.Executable,
		Invocation:   strings.TrimSpace(cfg.Quantification.Invocation),
		PipelinePath: cfg.Quantification.PipelinePath,
	}
}

// OutputDir returns the processed output directory for a sample.
func (g Globals) OutputDir(sample string) string {
	return filepath.Join(g.ProcessedDir, textutil.SanitizeSegment(sample))
}

// Command is a fully rendered stage invocation for one sample.
type Command struct {
	Stage          string
	Sample         string
	Line           string
	ExpectedOutput string
	OutputDir      string
	Resources      Resources
}

// placeholderFuncs lets templates parse before a sample is known.
var placeholderFuncs = template.FuncMap{
	"marker":   func(string) (string, error) { return "", nil },
	"channels": func(string) (string, error) { return "", nil },
	"quote":    textutil.ShellQuote,
}

// Render resolves stage's templates for sample.
func Render(stage Stage, sample manifest.Sample, panel *manifest.Panel, g Globals) (Command, error) {
	output, err := stage.ExpectedOutput(sample, panel, g)
	if err != nil {
		return Command{}, err
	}
	data := templateData(stage, sample, g)
	data["Output"] = output
	line, err := execute(stage, sample, panel, "command", stage.Command, data)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Stage:          stage.Name,
		Sample:         sample.Name,
		Line:           line,
		ExpectedOutput: output,
		OutputDir:      g.OutputDir(sample.Name),
		Resources:      stage.Resources,
	}, nil
}

// ExpectedOutput renders the artifact path whose existence marks the stage
// as done for sample.
func (s Stage) ExpectedOutput(sample manifest.Sample, panel *manifest.Panel, g Globals) (string, error) {
	out, err := execute(s, sample, panel, "output", s.Output, templateData(s, sample, g))
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(out, "\n\r") {
		return "", &TemplateError{Stage: s.Name, Sample: sample.Name, Field: "output", Err: errors.New("rendered path spans multiple lines")}
	}
	return filepath.Clean(out), nil
}

func templateData(stage Stage, sample manifest.Sample, g Globals) map[string]any {
	attrs := make(map[string]string, len(sample.Attributes))
	for k, v := range sample.Attributes {
		attrs[k] = v
	}
	data := map[string]any{
		"Sample":    sample.Name,
		"Stage":     stage.Name,
		"Input":     sample.Input,
		"OutputDir": g.OutputDir(sample.Name),
		"Threads":   stage.Resources.CPUs,
		"MemoryMB":  stage.Resources.MemoryMB,
		"Attr":      attrs,
		"Params":    cloneParams(stage.Params),
	}
	optional := map[string]string{
		"Model":        g.ModelPath,
		"Panel":        sample.PanelPath,
		"Executable":   g.Executable,
		"Invocation":   g.Invocation,
		"PipelinePath": g.PipelinePath,
		"Prev":         g.Previous,
	}
	for key, value := range optional {
		if strings.TrimSpace(value) != "" {
			data[key] = value
		}
	}
	return data
}

func execute(stage Stage, sample manifest.Sample, panel *manifest.Panel, field, text string, data map[string]any) (string, error) {
	fail := func(err error) error {
		return &TemplateError{Stage: stage.Name, Sample: sample.Name, Field: field, Err: err}
	}
	if panel == nil {
		return "", fail(errors.New("no panel available"))
	}
	if _, ok := data["Panel"]; !ok && panel.Path != "" {
		data["Panel"] = panel.Path
	}
	tmpl, err := parseTemplate(stage.Name+"."+field, text, sampleFuncs(sample, panel))
	if err != nil {
		return "", fail(err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fail(err)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fail(errors.New("rendered to an empty string"))
	}
	return out, nil
}

func sampleFuncs(sample manifest.Sample, panel *manifest.Panel) template.FuncMap {
	return template.FuncMap{
		"marker": func(name string) (string, error) {
			if !panel.Has(name) {
				return "", fmt.Errorf("marker %q is not defined in panel %s", name, panel.Path)
			}
			return strings.TrimSpace(name), nil
		},
		"channels": func(role string) (string, error) {
			names := panel.ByRole(role, sample.ExcludeChannels)
			if len(names) == 0 {
				return "", fmt.Errorf("panel %s has no %q channels after exclusions", panel.Path, role)
			}
			return strings.Join(names, ","), nil
		},
		"quote": textutil.ShellQuote,
	}
}
