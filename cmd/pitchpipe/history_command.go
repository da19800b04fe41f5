package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pitchpipe/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded conversion outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(stdout, "No conversions recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{
						formatHistoryTime(item.CreatedAt),
						item.DisplayName,
						item.Outcome,
						formatHistorySize(item.Outcome, item.ByteCount),
						item.Diagnostic,
					})
				}
				table := renderTable(
					[]string{"When", "File", "Outcome", "Size", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded conversion outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.HistoryClear()
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				if resp.Cleared {
					fmt.Fprintln(cmd.OutOrStdout(), "Conversion history cleared")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "No history to clear")
				}
				return nil
			})
		},
	}

	historyCmd.AddCommand(clearCmd)
	return historyCmd
}

func formatHistoryTime(value string) string {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func formatHistorySize(outcome string, byteCount int64) string {
	if outcome != "complete" || byteCount <= 0 {
		return ""
	}
	return formatBytes(uint64(byteCount))
}
