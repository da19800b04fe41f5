package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Daemon contains configuration for the basic-pitch worker subprocess.
type Daemon struct {
	// Binary is the worker executable name or path.
	Binary string `toml:"binary"`
	// ExtraArgs is a shell-style string of additional launch arguments.
	ExtraArgs string `toml:"extra_args"`
	// StopTimeout is the grace period in seconds before a force kill.
	StopTimeout int `toml:"stop_timeout"`
	// StartupTimeout bounds the wait for the readiness marker, in seconds.
	StartupTimeout int `toml:"startup_timeout"`
	// StderrSuppress lists substrings of known-benign worker stderr warnings.
	StderrSuppress []string `toml:"stderr_suppress"`
}

// Workflow contains timing configuration for request bookkeeping.
type Workflow struct {
	// ReapInterval is the stale-request sweep interval in seconds.
	ReapInterval int `toml:"reap_interval"`
	// StaleThreshold is the request age in seconds after which it is evicted.
	StaleThreshold int `toml:"stale_threshold"`
	// DuplicateGrace is how long, in seconds, a handled output path is
	// remembered to absorb duplicate success notifications.
	DuplicateGrace int `toml:"duplicate_grace"`
}

// Normalize contains configuration for audio format normalization.
type Normalize struct {
	// FFmpegPath optionally pins the ffmpeg executable; empty means discovery.
	FFmpegPath string `toml:"ffmpeg_path"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// History contains configuration for the conversion journal.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for pitchpipe.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Daemon        Daemon        `toml:"daemon"`
	Workflow      Workflow      `toml:"workflow"`
	Normalize     Normalize     `toml:"normalize"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pitchpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("pitchpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
			return fmt.Errorf("paths.output_dir: %w", err)
		}
	}
	if strings.TrimSpace(c.Normalize.FFmpegPath) != "" {
		if c.Normalize.FFmpegPath, err = expandPath(c.Normalize.FFmpegPath); err != nil {
			return fmt.Errorf("normalize.ffmpeg_path: %w", err)
		}
	}
	c.Daemon.Binary = strings.TrimSpace(c.Daemon.Binary)
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

// Validate checks configuration invariants after normalization.
func (c *Config) Validate() error {
	if c.Daemon.Binary == "" {
		return errors.New("daemon.binary is required")
	}
	if c.Daemon.StopTimeout <= 0 {
		return fmt.Errorf("daemon.stop_timeout must be positive, got %d", c.Daemon.StopTimeout)
	}
	if c.Daemon.StartupTimeout <= 0 {
		return fmt.Errorf("daemon.startup_timeout must be positive, got %d", c.Daemon.StartupTimeout)
	}
	if c.Workflow.ReapInterval <= 0 {
		return fmt.Errorf("workflow.reap_interval must be positive, got %d", c.Workflow.ReapInterval)
	}
	if c.Workflow.StaleThreshold <= 0 {
		return fmt.Errorf("workflow.stale_threshold must be positive, got %d", c.Workflow.StaleThreshold)
	}
	if c.Workflow.DuplicateGrace <= 0 {
		return fmt.Errorf("workflow.duplicate_grace must be positive, got %d", c.Workflow.DuplicateGrace)
	}
	if _, err := c.ExtraDaemonArgs(); err != nil {
		return err
	}
	return nil
}

// ExtraDaemonArgs parses daemon.extra_args into an argument vector.
func (c *Config) ExtraDaemonArgs() ([]string, error) {
	trimmed := strings.TrimSpace(c.Daemon.ExtraArgs)
	if trimmed == "" {
		return nil, nil
	}
	args, err := shlex.Split(trimmed)
	if err != nil {
		return nil, fmt.Errorf("daemon.extra_args: %w", err)
	}
	return args, nil
}

// EnsureDirectories creates required directories for daemon operation.
// OutputDir is created on a best-effort basis so the daemon can run when
// the destination is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "pitchpipe.sock")
}

// HistoryDBPath returns the conversion journal database location.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
