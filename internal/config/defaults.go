package config

const (
	defaultWorkDir        = "~/.local/share/pitchpipe/work"
	defaultLogDir         = "~/.local/share/pitchpipe/logs"
	defaultDaemonBinary   = "basic-pitch-daemon"
	defaultStopTimeout    = 3
	defaultStartupTimeout = 30
	defaultReapInterval   = 20
	defaultStaleThreshold = 20
	defaultDuplicateGrace = 5
	defaultNtfyTimeout    = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Daemon: Daemon{
			Binary:         defaultDaemonBinary,
			StopTimeout:    defaultStopTimeout,
			StartupTimeout: defaultStartupTimeout,
		},
		Workflow: Workflow{
			ReapInterval:   defaultReapInterval,
			StaleThreshold: defaultStaleThreshold,
			DuplicateGrace: defaultDuplicateGrace,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
