package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubExecutor struct {
	output string
	err    error
	binary string
	args   []string
}

func (s *stubExecutor) Run(_ context.Context, binary string, args []string) (string, error) {
	s.binary = binary
	s.args = append([]string(nil), args...)
	return s.output, s.err
}

func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func TestOutputPath(t *testing.T) {
	cases := map[string]string{
		"/in/song.mp3":       "/in/song.proc.wav",
		"/in/song.wav":       "/in/song.proc.wav",
		"/in/no-extension":   "/in/no-extension.proc.wav",
		"/in/dot.ted.flac":   "/in/dot.ted.proc.wav",
		"relative/track.ogg": "relative/track.proc.wav",
	}
	for input, want := range cases {
		if got := OutputPath(input); got != want {
			t.Errorf("OutputPath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeInvokesCanonicalArguments(t *testing.T) {
	exec := &stubExecutor{}
	n, err := New(fakeFFmpeg(t), WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := n.Normalize(context.Background(), "/in/song.mp3")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out != "/in/song.proc.wav" {
		t.Fatalf("unexpected output path %q", out)
	}
	want := []string{"-i", "/in/song.mp3", "-ar", "22050", "-ac", "1", "-sample_fmt", "s16", "-y", "/in/song.proc.wav"}
	if strings.Join(exec.args, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args %v", exec.args)
	}
}

func TestNormalizeSurfacesDiagnostics(t *testing.T) {
	exec := &stubExecutor{output: "Invalid data found when processing input", err: errors.New("exit status 1")}
	n, err := New(fakeFFmpeg(t), WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = n.Normalize(context.Background(), "/in/broken.mp3")
	if err == nil {
		t.Fatal("expected transcode failure")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("diagnostic output missing from error: %v", err)
	}
}

func TestNormalizeFailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "song.mp3")
	partial := filepath.Join(dir, "song.proc.wav")
	if err := os.WriteFile(partial, []byte("partial"), 0o644); err != nil {
		t.Fatalf("seed partial output: %v", err)
	}
	exec := &stubExecutor{err: errors.New("exit status 1")}
	n, err := New(fakeFFmpeg(t), WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := n.Normalize(context.Background(), input); err == nil {
		t.Fatal("expected transcode failure")
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Fatal("partial output should be removed after a failed transcode")
	}
}

func TestLocateExplicitPathMissing(t *testing.T) {
	_, err := Locate(filepath.Join(t.TempDir(), "ffmpeg"))
	if err == nil {
		t.Fatal("expected error for missing configured binary")
	}
	if !strings.Contains(err.Error(), "install it with") {
		t.Fatalf("error should name the install method: %v", err)
	}
}

func TestLocateExplicitPath(t *testing.T) {
	path := fakeFFmpeg(t)
	resolved, err := Locate(path)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if resolved != path {
		t.Fatalf("Locate = %q, want %q", resolved, path)
	}
}
