package pipeline

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"imcflow/internal/config"
)

// Built-in stage names.
const (
	StageSegmentation   = "segmentation"
	StageQuantification = "quantification"
)

const (
	segmentationCommand = `LAZYFLOW_THREADS={{.Threads}} LAZYFLOW_TOTAL_RAM_MB={{.MemoryMB}} {{quote .Executable}} --headless` +
		` --project={{quote .Model}} --export_source=Probabilities --output_format=tiff` +
		` --output_filename_format={{quote .Output}} {{quote .Input}}`
	segmentationOutput = `{{.OutputDir}}/{{.Sample}}_Probabilities.tiff`

	quantificationCommand = `{{.Invocation}} -c -r -p {{quote .PipelinePath}}` +
		` -i {{quote .OutputDir}} -o {{quote .OutputDir}}`
	quantificationOutput = `{{.OutputDir}}/{{.Sample}}_quantification.csv`
)

// Resources is the per-job resource envelope handed to a backend.
type Resources struct {
	CPUs      int
	MemoryMB  int
	WallTime  time.Duration
	Partition string
}

// Validate reports an unusable resource envelope.
func (r Resources) Validate() error {
	switch {
	case r.CPUs <= 0:
		return fmt.Errorf("cpus must be positive (got %d)", r.CPUs)
	case r.MemoryMB <= 0:
		return fmt.Errorf("memory_mb must be positive (got %d)", r.MemoryMB)
	case r.WallTime <= 0:
		return fmt.Errorf("wall_time must be positive (got %s)", r.WallTime)
	case strings.ContainsAny(r.Partition, " \t\r\n"):
		return fmt.Errorf("partition %q contains whitespace", r.Partition)
	}
	return nil
}

// Stage is one ordered step of a sample's pipeline.
type Stage struct {
	Name    string
	Ordinal int
	// Tool is the binary the stage needs on PATH; checked by preflight.
	Tool      string
	Command   string
	Output    string
	Params    map[string]string
	Resources Resources
}

// DefaultStages returns the built-in segmentation and quantification stages
// configured from cfg.
func DefaultStages(cfg *config.Config) ([]Stage, error) {
	segRes, err := resourcesFromConfig(cfg.Segmentation.Resources, cfg.Cluster.Partition)
	if err != nil {
		return nil, fmt.Errorf("segmentation resources: %w", err)
	}
	quantRes, err := resourcesFromConfig(cfg.Quantification.Resources, cfg.Cluster.Partition)
	if err != nil {
		return nil, fmt.Errorf("quantification resources: %w", err)
	}
	stages := []Stage{
		{
			Name:      StageSegmentation,
			Ordinal:   1,
			Tool:      cfg.Segmentation.Executable,
			Command:   segmentationCommand,
			Output:    segmentationOutput,
			Params:    cloneParams(cfg.Segmentation.Params),
			Resources: segRes,
		},
		{
			Name:      StageQuantification,
			Ordinal:   2,
			Tool:      singleWord(cfg.Quantification.Invocation),
			Command:   quantificationCommand,
			Output:    quantificationOutput,
			Params:    cloneParams(cfg.Quantification.Params),
			Resources: quantRes,
		},
	}
	return stages, validateStages(stages)
}

// Stages returns the stage list for cfg: the YAML stage file when one is
// configured, otherwise the built-in stages.
func Stages(cfg *config.Config) ([]Stage, error) {
	if strings.TrimSpace(cfg.Stages.File) != "" {
		return LoadStages(cfg.Stages.File, cfg.Cluster.Partition)
	}
	return DefaultStages(cfg)
}

type stageFile struct {
	Stages []stageEntry `yaml:"stages"`
}

type stageEntry struct {
	Name      string            `yaml:"name"`
	Ordinal   int               `yaml:"ordinal"`
	Tool      string            `yaml:"tool"`
	Command   string            `yaml:"command"`
	Output    string            `yaml:"output"`
	Params    map[string]string `yaml:"params"`
	Resources struct {
		CPUs      int    `yaml:"cpus"`
		MemoryMB  int    `yaml:"memory_mb"`
		WallTime  string `yaml:"wall_time"`
		Partition string `yaml:"partition"`
	} `yaml:"resources"`
}

// LoadStages reads a YAML stage file. Stages are returned sorted by ordinal.
// defaultPartition applies to stages that do not name one.
func LoadStages(path, defaultPartition string) ([]Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage file: %w", err)
	}
	var doc stageFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrStageDefinition, path, err)
	}
	stages := make([]Stage, 0, len(doc.Stages))
	for i, entry := range doc.Stages {
		res, err := resourcesFromConfig(config.Resources{
			CPUs:     entry.Resources.CPUs,
			MemoryMB: entry.Resources.MemoryMB,
			WallTime: entry.Resources.WallTime,
		}, defaultPartition)
		if err != nil {
			return nil, stageErrorf("stage %d (%s): %v", i+1, entry.Name, err)
		}
		if p := strings.TrimSpace(entry.Resources.Partition); p != "" {
			res.Partition = p
		}
		stages = append(stages, Stage{
			Name:      strings.TrimSpace(entry.Name),
			Ordinal:   entry.Ordinal,
			Tool:      strings.TrimSpace(entry.Tool),
			Command:   strings.TrimSpace(entry.Command),
			Output:    strings.TrimSpace(entry.Output),
			Params:    entry.Params,
			Resources: res,
		})
	}
	slices.SortStableFunc(stages, func(a, b Stage) int { return a.Ordinal - b.Ordinal })
	if err := validateStages(stages); err != nil {
		return nil, err
	}
	return stages, nil
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return stageErrorf("no stages defined")
	}
	names := make(map[string]struct{}, len(stages))
	for i, stage := range stages {
		if stage.Name == "" {
			return stageErrorf("stage %d has no name", i+1)
		}
		if _, dup := names[stage.Name]; dup {
			return stageErrorf("stage name %q repeats", stage.Name)
		}
		names[stage.Name] = struct{}{}
		if stage.Ordinal <= 0 {
			return stageErrorf("stage %s: ordinal must be positive", stage.Name)
		}
		if i > 0 && stages[i-1].Ordinal == stage.Ordinal {
			return stageErrorf("stages %s and %s share ordinal %d", stages[i-1].Name, stage.Name, stage.Ordinal)
		}
		if stage.Command == "" {
			return stageErrorf("stage %s: command template is empty", stage.Name)
		}
		if stage.Output == "" {
			return stageErrorf("stage %s: output template is empty", stage.Name)
		}
		for field, text := range map[string]string{"command": stage.Command, "output": stage.Output} {
			if _, err := parseTemplate(stage.Name+"."+field, text, nil); err != nil {
				return stageErrorf("stage %s: %s template: %v", stage.Name, field, err)
			}
		}
		if err := stage.Resources.Validate(); err != nil {
			return stageErrorf("stage %s: %v", stage.Name, err)
		}
	}
	return nil
}

func resourcesFromConfig(res config.Resources, partition string) (Resources, error) {
	wall, err := config.ParseWallTime(res.WallTime)
	if err != nil {
		return Resources{}, err
	}
	out := Resources{
		CPUs:      res.CPUs,
		MemoryMB:  res.MemoryMB,
		WallTime:  wall,
		Partition: strings.TrimSpace(partition),
	}
	return out, out.Validate()
}

func parseTemplate(name, text string, funcs template.FuncMap) (*template.Template, error) {
	if funcs == nil {
		funcs = placeholderFuncs
	}
	return template.New(name).Option("missingkey=error").Funcs(funcs).Parse(text)
}

func cloneParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// singleWord returns value when it is a bare command name. Compound
// invocation prefixes (environment activation chains) are not checked.
func singleWord(value string) string {
	fields := strings.Fields(value)
	if len(fields) != 1 {
		return ""
	}
	return fields[0]
}
