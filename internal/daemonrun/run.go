// Package daemonrun boots the pitchpiped runtime: logger, history
// journal, workflow manager, daemon lock, and the IPC server, then
// blocks until a shutdown signal or IPC shutdown request arrives.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"pitchpipe/internal/config"
	"pitchpipe/internal/daemon"
	"pitchpipe/internal/deps"
	"pitchpipe/internal/events"
	"pitchpipe/internal/history"
	"pitchpipe/internal/ipc"
	"pitchpipe/internal/logging"
	"pitchpipe/internal/notifications"
	"pitchpipe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	SocketPath  string
}

// Run starts the pitchpipe daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("pitchpiped-%s.log", runID))

	logger, err := logging.New(logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update pitchpiped.log link: %v\n", err)
	}
	pidPath := filepath.Join(cfg.Paths.LogDir, "pitchpiped.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg)
		if err != nil {
			logger.Error("open history journal", logging.Error(err))
			return err
		}
		defer store.Close()
	}

	notifier := notifications.NewService(cfg)
	sink := events.NewFanout(
		events.NewLogSink(logger),
		notifications.NewEventSink(notifier, logger),
	)

	manager, err := workflow.NewManager(cfg, sink, store, logger)
	if err != nil {
		return fmt.Errorf("create workflow manager: %w", err)
	}

	d, err := daemon.New(cfg, store, logger, manager, notifier)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger, cancel)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the worker binary path in the configuration"),
		)
	}

	<-signalCtx.Done()
	logger.Info("pitchpipe daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "pitchpiped.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range deps.Check(cfg) {
		attrs = append(attrs,
			logging.Bool(statusKey(status.Name, "available"), status.Available),
			logging.String(statusKey(status.Name, "command"), status.Command))
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "dependency snapshot", attrs...)
}

func statusKey(name, suffix string) string {
	key := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			key = append(key, r)
		case r >= 'A' && r <= 'Z':
			key = append(key, r+('a'-'A'))
		default:
			key = append(key, '_')
		}
	}
	return string(key) + "_" + suffix
}
