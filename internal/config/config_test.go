package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pitchpipe/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected exists=false for %s", path)
	}
	if cfg.Daemon.Binary != "basic-pitch-daemon" {
		t.Fatalf("unexpected default binary %q", cfg.Daemon.Binary)
	}
	if cfg.Workflow.StaleThreshold != 20 || cfg.Workflow.ReapInterval != 20 {
		t.Fatalf("unexpected workflow defaults: %+v", cfg.Workflow)
	}
	if cfg.Workflow.DuplicateGrace != 5 {
		t.Fatalf("unexpected duplicate grace default: %d", cfg.Workflow.DuplicateGrace)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
work_dir = "` + filepath.Join(dir, "work") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[daemon]
binary = "/opt/basic-pitch/bin/basic-pitch-daemon"
extra_args = "--model-path '/opt/models/icassp 2022'"
stop_timeout = 5

[workflow]
stale_threshold = 45
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Daemon.StopTimeout != 5 {
		t.Fatalf("expected stop_timeout=5, got %d", cfg.Daemon.StopTimeout)
	}
	if cfg.Workflow.StaleThreshold != 45 {
		t.Fatalf("expected stale_threshold=45, got %d", cfg.Workflow.StaleThreshold)
	}

	args, err := cfg.ExtraDaemonArgs()
	if err != nil {
		t.Fatalf("ExtraDaemonArgs returned error: %v", err)
	}
	want := []string{"--model-path", "/opt/models/icassp 2022"}
	if len(args) != len(want) || args[0] != want[0] || args[1] != want[1] {
		t.Fatalf("unexpected extra args: %v", args)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty binary", func(c *config.Config) { c.Daemon.Binary = "" }},
		{"zero stop timeout", func(c *config.Config) { c.Daemon.StopTimeout = 0 }},
		{"negative reap interval", func(c *config.Config) { c.Workflow.ReapInterval = -1 }},
		{"unbalanced extra args", func(c *config.Config) { c.Daemon.ExtraArgs = `--model "unterminated` }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExpandPathResolvesHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := config.ExpandPath("~/pitchpipe")
	if err != nil {
		t.Fatalf("ExpandPath returned error: %v", err)
	}
	if !strings.HasPrefix(got, home) {
		t.Fatalf("expected %q under home %q", got, home)
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[daemon]") {
		t.Fatalf("sample config missing [daemon] section")
	}

	// The sample must itself parse and validate.
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}
