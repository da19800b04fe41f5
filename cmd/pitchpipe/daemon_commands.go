package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pitchpipe/internal/daemonctl"
	"pitchpipe/internal/deps"
	"pitchpipe/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the pitchpipe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			default:
				fmt.Fprintln(stdout, "Daemon started")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the pitchpipe daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), daemonLogDir(ctx), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping daemon...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the pitchpipe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				daemonLogDir(ctx),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker, and conversion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			client, dialErr := ctx.dialClient()
			if dialErr != nil {
				return renderOfflineStatus(ctx, stdout, colorize)
			}
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("query daemon status: %w", err)
			}
			renderDaemonStatus(stdout, status, colorize)
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderDaemonStatus(stdout io.Writer, status *ipc.StatusResponse, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	runKind := statusError
	runDetail := "stopped"
	if status.Running {
		runKind = statusOK
		runDetail = fmt.Sprintf("running (pid %d)", status.PID)
	}
	fmt.Fprintln(stdout, renderStatusLine("Daemon", runKind, runDetail, colorize))

	workerKind := statusWarn
	if status.WorkerState == "ready" {
		workerKind = statusOK
	}
	workerDetail := status.WorkerState
	if status.WorkerPID > 0 {
		workerDetail = fmt.Sprintf("%s (pid %d)", status.WorkerState, status.WorkerPID)
	}
	fmt.Fprintln(stdout, renderStatusLine("Worker", workerKind, workerDetail, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Pending", statusInfo, fmt.Sprintf("%d conversion(s)", status.PendingCount), colorize))
	if len(status.Flags) > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Worker flags", statusInfo, strings.Join(status.Flags, " "), colorize))
	}
	if status.MemoryRSS > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Memory", statusInfo, formatBytes(status.MemoryRSS), colorize))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Conversions", colorize) {
		fmt.Fprintln(stdout, line)
	}
	rows := [][]string{
		{"Complete", fmt.Sprintf("%d", status.History.Complete)},
		{"Failed", fmt.Sprintf("%d", status.History.Failed)},
		{"Expired", fmt.Sprintf("%d", status.History.Expired)},
	}
	fmt.Fprintln(stdout, renderTable([]string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func renderOfflineStatus(ctx *commandContext, stdout io.Writer, colorize bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "not running (start with `pitchpipe start`)", colorize))
	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, dep := range deps.Check(cfg) {
		fmt.Fprintln(stdout, renderStatusLine(dep.Name, dependencyKind(dep.Available, dep.Optional), dependencyDetail(dep.Available, dep.Command, dep.Detail), colorize))
	}
	return nil
}

func dependencyLines(items []ipc.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(items)+1)
	missing := make([]string, 0)
	for _, dep := range items {
		lines = append(lines, renderStatusLine(dep.Name, dependencyKind(dep.Available, dep.Optional), dependencyDetail(dep.Available, dep.Command, dep.Detail), colorize))
		if !dep.Available && !dep.Optional {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func dependencyKind(available, optional bool) statusKind {
	switch {
	case available:
		return statusOK
	case optional:
		return statusWarn
	default:
		return statusError
	}
}

func dependencyDetail(available bool, command, detail string) string {
	if available {
		if command != "" {
			return fmt.Sprintf("Ready (command: %s)", command)
		}
		return "Ready"
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "not available"
	}
	return detail
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}

func daemonLogDir(ctx *commandContext) string {
	if cfg := ctx.configValue(); cfg != nil {
		return cfg.Paths.LogDir
	}
	return ""
}
