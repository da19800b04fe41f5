package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pitchpipe/internal/ipc"
)

func newParamsCommand(ctx *commandContext) *cobra.Command {
	paramsCmd := &cobra.Command{
		Use:   "params",
		Short: "Manage worker conversion parameters",
	}

	setCmd := &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Apply conversion parameters and restart the worker",
		Long: `Apply conversion parameters and restart the worker.

Supported keys: onset-threshold, frame-threshold (0.0-1.0),
min-frequency, max-frequency (20.0-8000.0), min-note-length
(0.01-10.0), tempo-bpm (60.0-200.0), use-melodia-trick and
include-pitch-bends (true/false).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyValues, err := splitKeyValues(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SetParams(keyValues)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintln(stdout, "Parameters applied; worker restarted")
				if len(resp.Flags) > 0 {
					fmt.Fprintf(stdout, "Worker flags: %s\n", strings.Join(resp.Flags, " "))
				}
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the worker flags currently in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(status.Flags) == 0 {
					fmt.Fprintln(stdout, "No parameter overrides in effect")
					return nil
				}
				fmt.Fprintf(stdout, "Worker flags: %s\n", strings.Join(status.Flags, " "))
				return nil
			})
		},
	}

	paramsCmd.AddCommand(setCmd)
	paramsCmd.AddCommand(showCmd)
	return paramsCmd
}

// splitKeyValues flattens key=value arguments into the alternating
// key/value sequence the daemon expects.
func splitKeyValues(args []string) ([]string, error) {
	flat := make([]string, 0, len(args)*2)
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		flat = append(flat, key, strings.TrimSpace(value))
	}
	return flat, nil
}
