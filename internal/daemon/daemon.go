package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/process"

	"pitchpipe/internal/config"
	"pitchpipe/internal/deps"
	"pitchpipe/internal/history"
	"pitchpipe/internal/logging"
	"pitchpipe/internal/notifications"
	"pitchpipe/internal/tracker"
	"pitchpipe/internal/workflow"
)

// Daemon coordinates the conversion pipeline and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *history.Store
	manager  *workflow.Manager
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ProcessStats reports the daemon's own resource usage.
type ProcessStats struct {
	MemoryRSS  uint64
	CPUPercent float64
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	Workflow      workflow.Status
	HistoryDBPath string
	LockFilePath  string
	Stats         ProcessStats
	Dependencies  []deps.Status
	History       history.Counts
}

// New constructs a daemon with initialized dependencies. store may be
// nil when the history journal is disabled.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger, mgr *workflow.Manager, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || mgr == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "pitchpiped.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  mgr,
		notifier: notifier,
		logPath:  filepath.Join(cfg.Paths.LogDir, "pitchpiped.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the worker pipeline.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another pitchpipe daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.manager.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("pitchpipe daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop winds the pipeline down and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.manager.Shutdown(stopCtx); err != nil {
		d.logger.Warn("workflow shutdown", logging.Error(err))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("pitchpipe daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the pipeline is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LogPath returns the daemon log file location.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status composes a runtime snapshot for status reporting.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.manager.Status(),
		LockFilePath: d.lockPath,
		Stats:        selfStats(),
		Dependencies: deps.Check(d.cfg),
	}
	if d.store != nil {
		status.HistoryDBPath = d.store.Path()
		if counts, err := d.store.Tally(ctx); err == nil {
			status.History = counts
		} else {
			d.logger.Warn("history tally failed", logging.Error(err))
		}
	}
	return status
}

func selfStats() ProcessStats {
	var stats ProcessStats
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, memErr := proc.MemoryInfo(); memErr == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	if cpu, cpuErr := proc.CPUPercent(); cpuErr == nil {
		stats.CPUPercent = cpu
	}
	return stats
}

// Submit registers a conversion request.
func (d *Daemon) Submit(ctx context.Context, path string, normalizeFirst bool) (tracker.Request, error) {
	if !d.running.Load() {
		return tracker.Request{}, errors.New("daemon is not running")
	}
	return d.manager.Submit(ctx, path, normalizeFirst)
}

// Pending lists in-flight requests, oldest first.
func (d *Daemon) Pending() []tracker.Request {
	return d.manager.Pending()
}

// SetParameters validates and applies worker flags via a restart.
func (d *Daemon) SetParameters(ctx context.Context, kv []string) ([]string, error) {
	if !d.running.Load() {
		return nil, errors.New("daemon is not running")
	}
	return d.manager.SetParameters(ctx, kv)
}

// History lists recent journal entries, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if d.store == nil {
		return nil, errors.New("history journal disabled")
	}
	return d.store.List(ctx, limit)
}

// ClearHistory deletes the journal contents.
func (d *Daemon) ClearHistory(ctx context.Context) error {
	if d.store == nil {
		return errors.New("history journal disabled")
	}
	return d.store.Clear(ctx)
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
