// Package normalize transcodes arbitrary input audio into the canonical
// format the conversion worker expects: 22050 Hz, mono, 16-bit signed
// PCM WAV. The transcoder is an external ffmpeg invocation treated as a
// black box.
package normalize

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// OutputSuffix distinguishes normalizer-produced temporaries from caller
// files. The suffixed file is what gets submitted to the worker and is
// deleted once the request resolves.
const OutputSuffix = ".proc.wav"

// wellKnownDirs are checked before falling back to PATH, covering the
// common Homebrew and distro install locations.
var wellKnownDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) (output string, err error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// Normalizer converts input audio files to the canonical worker format.
type Normalizer struct {
	binary string
	exec   Executor
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(n *Normalizer) {
		if exec != nil {
			n.exec = exec
		}
	}
}

// New builds a Normalizer. binary may be empty or a bare name, in which
// case the tool is located via the well-known directories and PATH.
func New(binary string, opts ...Option) (*Normalizer, error) {
	resolved, err := Locate(binary)
	if err != nil {
		return nil, err
	}
	n := &Normalizer{binary: resolved, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Binary reports the resolved transcoder path.
func (n *Normalizer) Binary() string {
	return n.binary
}

// Locate resolves the transcoder binary. An explicit absolute or
// relative path is verified directly; a bare name is searched in the
// well-known directories, then PATH.
func Locate(binary string) (string, error) {
	name := strings.TrimSpace(binary)
	if name == "" {
		name = "ffmpeg"
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
		return "", fmt.Errorf("ffmpeg not found at configured path %q; install it with `brew install ffmpeg` or your distribution's package manager", name)
	}
	for _, dir := range wellKnownDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			return candidate, nil
		}
	}
	if resolved, err := exec.LookPath(name); err == nil {
		return resolved, nil
	}
	return "", fmt.Errorf("%s not found in %s or PATH; install it with `brew install ffmpeg` or your distribution's package manager", name, strings.Join(wellKnownDirs, ", "))
}

// Normalize transcodes input to a sibling canonical WAV and returns its
// path. The output lives next to the input with the OutputSuffix
// replacing the original extension. A non-zero transcoder exit leaves no
// tracker obligations behind; the partial output, if any, is removed.
func (n *Normalizer) Normalize(ctx context.Context, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("normalize: input path required")
	}
	output := OutputPath(input)
	args := []string{
		"-i", input,
		"-ar", "22050",
		"-ac", "1",
		"-sample_fmt", "s16",
		"-y",
		output,
	}
	diag, err := n.exec.Run(ctx, n.binary, args)
	if err != nil {
		_ = os.Remove(output)
		if diag != "" {
			return "", fmt.Errorf("normalize %s: %w: %s", filepath.Base(input), err, diag)
		}
		return "", fmt.Errorf("normalize %s: %w", filepath.Base(input), err)
	}
	return output, nil
}

// OutputPath predicts the normalized sibling path for input.
func OutputPath(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + OutputSuffix
}
