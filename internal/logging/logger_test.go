package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerExtractsComponent(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Info("worker started", String(FieldComponent, "supervisor"), String("binary", "basic-pitch-daemon"))

	out := buf.String()
	if !strings.Contains(out, "INFO supervisor: worker started") {
		t.Fatalf("expected component prefix in output, got %q", out)
	}
	if !strings.Contains(out, "binary=basic-pitch-daemon") {
		t.Fatalf("expected key=value attr in output, got %q", out)
	}
	if strings.Contains(out, "component=") {
		t.Fatalf("component should not be rendered as an attr, got %q", out)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Warn("unmatched output", String("path", "/tmp/My Song.mid"))

	if !strings.Contains(buf.String(), `path="/tmp/My Song.mid"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info record suppressed, got %q", buf.String())
	}
	logger.Error("shown")
	if !strings.Contains(buf.String(), "ERROR shown") {
		t.Fatalf("expected error record, got %q", buf.String())
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"nonsuch": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewNopIsSilent(t *testing.T) {
	logger := NewNop()
	logger.Error("discarded", Error(nil))
}
