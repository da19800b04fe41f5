package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pitchpipe/internal/ipc"
)

var audioFileExtensions = map[string]struct{}{
	".wav":  {},
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".m4a":  {},
	".aiff": {},
	".aif":  {},
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var normalize bool

	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Submit an audio file for MIDI conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			ext := strings.ToLower(filepath.Ext(info.Name()))
			if _, ok := audioFileExtensions[ext]; !ok {
				return fmt.Errorf("unsupported file extension %q", ext)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(absPath, normalize)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Submitted %s (request %s)\n", resp.DisplayName, resp.RequestID)
				fmt.Fprintf(stdout, "Expected output: %s\n", resp.ExpectedOutputPath)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&normalize, "normalize", false, "Normalize the audio with ffmpeg before conversion")
	return cmd
}
