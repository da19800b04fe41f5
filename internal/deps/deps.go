// Package deps reports the availability of the external tools the
// daemon shells out to.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"pitchpipe/internal/config"
	"pitchpipe/internal/normalize"
)

// Status reports the availability of one external dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Check evaluates every external tool cfg references. The worker binary
// is mandatory; ffmpeg only matters for submissions that request
// normalization, so it is reported as optional.
func Check(cfg *config.Config) []Status {
	return []Status{
		checkWorker(cfg.Daemon.Binary),
		checkFFmpeg(cfg.Normalize.FFmpegPath),
	}
}

func checkWorker(binary string) Status {
	status := Status{
		Name:        "basic-pitch daemon",
		Command:     strings.TrimSpace(binary),
		Description: "Performs the audio-to-MIDI conversion",
	}
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	if strings.ContainsRune(status.Command, os.PathSeparator) {
		info, err := os.Stat(status.Command)
		if err != nil || info.IsDir() {
			status.Detail = fmt.Sprintf("binary %q not found", status.Command)
			return status
		}
		status.Available = true
		return status
	}
	resolved, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}

func checkFFmpeg(configured string) Status {
	status := Status{
		Name:        "FFmpeg",
		Description: "Normalizes input audio before submission",
		Optional:    true,
	}
	resolved, err := normalize.Locate(configured)
	if err != nil {
		status.Command = strings.TrimSpace(configured)
		if status.Command == "" {
			status.Command = "ffmpeg"
		}
		status.Detail = err.Error()
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}
