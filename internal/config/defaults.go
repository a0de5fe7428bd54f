package config

const (
	defaultWorkDir          = "~/.local/share/clearmark/work"
	defaultLogDir           = "~/.local/share/clearmark/logs"
	defaultAPIBind          = "127.0.0.1:7519"
	defaultWorkerCount      = 2
	defaultPollInterval     = 2
	defaultProgressInterval = 500
	defaultTrackerWindow    = 12
	defaultCorroborate      = 1
	defaultSmooth           = 5
	defaultPadding          = 6
	defaultWorkerCommand    = "python3"
	defaultDetectorScript   = "workers/detect_worker.py"
	defaultInpainterScript  = "workers/inpaint_worker.py"
	defaultStartupTimeout   = 120
	defaultConfidence       = 0.35
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Workers: Workers{
			Count:            defaultWorkerCount,
			PollInterval:     defaultPollInterval,
			ProgressInterval: defaultProgressInterval,
		},
		Tracker: Tracker{
			Window:      defaultTrackerWindow,
			Corroborate: defaultCorroborate,
			Smooth:      defaultSmooth,
			Padding:     defaultPadding,
		},
		Detector: ModelWorker{
			Command:        defaultWorkerCommand,
			Script:         defaultDetectorScript,
			StartupTimeout: defaultStartupTimeout,
			Confidence:     defaultConfidence,
		},
		Inpainter: ModelWorker{
			Command:        defaultWorkerCommand,
			Script:         defaultInpainterScript,
			StartupTimeout: defaultStartupTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
