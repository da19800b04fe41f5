package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pitchpipe/internal/ipc"
)

func newPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List conversions awaiting worker output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Pending()
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from daemon")
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(stdout, "No pending conversions")
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{
						item.DisplayName,
						item.ExpectedOutputPath,
						formatAge(item.AgeSeconds),
						item.RequestID,
					})
				}
				table := renderTable(
					[]string{"File", "Expected Output", "Age", "Request"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}
}

func formatAge(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}
