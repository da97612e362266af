package config

const (
	defaultProjectDir            = "."
	defaultProcessedDir          = "processed"
	defaultLogDir                = "submission"
	defaultLedgerName            = "imcflow.db"
	defaultSampleColumn          = "sample_name"
	defaultInputColumn           = "input_path"
	defaultPanelColumn           = "panel"
	defaultExcludeColumn         = "channel_exclude"
	defaultToggleColumn          = "toggle"
	defaultBackendKind           = BackendLocal
	defaultMaxParallel           = 1
	defaultSubmitCommand         = "sbatch"
	defaultClusterShell          = "/bin/bash"
	defaultSegmentationBinary    = "run_ilastik.sh"
	defaultSegmentationCPUs      = 4
	defaultSegmentationMemoryMB  = 16000
	defaultSegmentationWallTime  = "02:00:00"
	defaultQuantInvocation       = "cellprofiler"
	defaultQuantCPUs             = 2
	defaultQuantMemoryMB         = 8000
	defaultQuantWallTime         = "04:00:00"
	defaultEventSubjectPrefix    = "imcflow"
	defaultEventTimeoutSeconds   = 5
	defaultAPIBind               = "127.0.0.1:7488"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	envBackend                   = "IMCFLOW_BACKEND"
	envModelPath                 = "IMCFLOW_MODEL"
	envQuantInvocation           = "IMCFLOW_QUANT_INVOCATION"
	envNATSURL                   = "IMCFLOW_NATS_URL"
	envSegmentationExecutableVar = "IMCFLOW_SEGMENTATION_EXECUTABLE"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ProjectDir:   defaultProjectDir,
			ProcessedDir: defaultProcessedDir,
			LogDir:       defaultLogDir,
		},
		Manifest: Manifest{
			SampleColumn:  defaultSampleColumn,
			InputColumn:   defaultInputColumn,
			PanelColumn:   defaultPanelColumn,
			ExcludeColumn: defaultExcludeColumn,
			ToggleColumn:  defaultToggleColumn,
		},
		Backend: Backend{
			Kind:              defaultBackendKind,
			MaxParallel:       defaultMaxParallel,
			ChainDependencies: true,
			SkipCompleted:     true,
		},
		Cluster: Cluster{
			SubmitCommand: defaultSubmitCommand,
			SubmitArgs:    []string{"--parsable"},
			Shell:         defaultClusterShell,
		},
		Segmentation: Segmentation{
			Executable: defaultSegmentationBinary,
			Resources: Resources{
				CPUs:     defaultSegmentationCPUs,
				MemoryMB: defaultSegmentationMemoryMB,
				WallTime: defaultSegmentationWallTime,
			},
		},
		Quantification: Quantification{
			Invocation: defaultQuantInvocation,
			Resources: Resources{
				CPUs:     defaultQuantCPUs,
				MemoryMB: defaultQuantMemoryMB,
				WallTime: defaultQuantWallTime,
			},
		},
		Events: Events{
			SubjectPrefix:  defaultEventSubjectPrefix,
			TimeoutSeconds: defaultEventTimeoutSeconds,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
