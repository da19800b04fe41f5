package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitchpipe/internal/config"
	"pitchpipe/internal/events"
	"pitchpipe/internal/history"
	"pitchpipe/internal/logging"
	"pitchpipe/internal/normalize"
	"pitchpipe/internal/params"
	"pitchpipe/internal/services/basicpitch"
	"pitchpipe/internal/tracker"
)

// OutputExtension is the worker's fixed output file extension.
const OutputExtension = ".mid"

// Normalizer transcodes an input file to the canonical worker format.
type Normalizer interface {
	Normalize(ctx context.Context, input string) (string, error)
}

// Journal persists resolved requests. A nil Journal disables recording.
type Journal interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Status is a point-in-time snapshot of the pipeline.
type Status struct {
	DaemonState  string
	DaemonPID    int
	PendingCount int
	Flags        []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLauncher overrides worker process creation (for tests).
func WithLauncher(launcher basicpitch.Launcher) Option {
	return func(m *Manager) { m.launcher = launcher }
}

// WithNormalizer overrides the audio normalizer (for tests).
func WithNormalizer(n Normalizer) Option {
	return func(m *Manager) {
		if n != nil {
			m.normalizer = n
		}
	}
}

// Manager owns the conversion pipeline. Worker stdout lines are
// delivered one at a time from a single supervisor goroutine, so the
// mark-then-search duplicate handling in handleSuccess observes them
// strictly in arrival order.
type Manager struct {
	cfg       *config.Config
	sup       *basicpitch.Supervisor
	tracker   *tracker.Tracker
	processed *tracker.ProcessedOutputs
	sink      events.Sink
	journal   Journal
	logger    *slog.Logger
	launcher  basicpitch.Launcher

	normMu     sync.Mutex
	normalizer Normalizer

	flagsMu sync.Mutex
	flags   []string

	reapMu     sync.Mutex
	reapCancel context.CancelFunc
	reapDone   chan struct{}
}

// NewManager wires a Manager and its worker supervisor. sink receives
// outlet events; journal may be nil.
func NewManager(cfg *config.Config, sink events.Sink, journal Journal, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	m := &Manager{
		cfg:       cfg,
		tracker:   tracker.New(),
		processed: tracker.NewProcessedOutputs(),
		sink:      sink,
		journal:   journal,
		logger:    logging.NewComponentLogger(logger, "workflow"),
	}
	for _, opt := range opts {
		opt(m)
	}

	sup, err := basicpitch.New(basicpitch.Options{
		Binary:         cfg.Daemon.Binary,
		WorkDir:        cfg.Paths.WorkDir,
		StopTimeout:    time.Duration(cfg.Daemon.StopTimeout) * time.Second,
		StartupTimeout: time.Duration(cfg.Daemon.StartupTimeout) * time.Second,
		StderrSuppress: cfg.Daemon.StderrSuppress,
		Launcher:       m.launcher,
		Logger:         logger,
	}, basicpitch.Hooks{
		OnReady: m.handleReady,
		OnLine:  m.handleLine,
		OnExit:  m.handleExit,
	})
	if err != nil {
		return nil, err
	}
	m.sup = sup
	return m, nil
}

// Start launches the worker and the stale-request reaper.
func (m *Manager) Start(ctx context.Context) error {
	args, err := m.workerArgs()
	if err != nil {
		return err
	}
	if err := m.sup.Start(ctx, args); err != nil {
		m.sink.DaemonError(err.Error())
		return err
	}
	m.startReaper()
	return nil
}

// Shutdown stops the reaper and the worker, abandoning any pending
// requests, and emits the shutdown-complete event once everything has
// wound down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopReaper()
	err := m.sup.Stop(ctx)
	m.sink.ShutdownComplete()
	return err
}

// Submit registers path for conversion and writes the directive to the
// worker. When normalizeFirst is set the input is transcoded to the
// canonical format first and the temporary becomes the submission key.
func (m *Manager) Submit(ctx context.Context, path string, normalizeFirst bool) (tracker.Request, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return tracker.Request{}, fmt.Errorf("submit: path required")
	}
	if info, err := os.Stat(path); err != nil {
		return tracker.Request{}, fmt.Errorf("submit %s: %w", path, err)
	} else if info.IsDir() {
		return tracker.Request{}, fmt.Errorf("submit %s: is a directory", path)
	}

	key := path
	cleanupTarget := ""
	if normalizeFirst {
		normalized, err := m.normalizeInput(ctx, path)
		if err != nil {
			return tracker.Request{}, err
		}
		key = normalized
		cleanupTarget = normalized
	}

	displayName := filepath.Base(path)
	baseName := strings.TrimSuffix(displayName, filepath.Ext(displayName))
	outputDir := m.outputDir(path)
	req := tracker.Request{
		Key:                key,
		RequestID:          uuid.NewString(),
		SubmittedAt:        time.Now(),
		DisplayName:        displayName,
		ExpectedOutputPath: filepath.Join(outputDir, baseName+OutputExtension),
		OriginalInputPath:  path,
		OriginalBaseName:   baseName,
		CleanupTarget:      cleanupTarget,
	}

	if err := m.tracker.Register(req); err != nil {
		if cleanupTarget != "" {
			m.removeFile(cleanupTarget)
		}
		return tracker.Request{}, fmt.Errorf("submit %s: %w", displayName, err)
	}
	if err := m.sup.Submit(key, outputDir); err != nil {
		m.tracker.Remove(key)
		if cleanupTarget != "" {
			m.removeFile(cleanupTarget)
		}
		return tracker.Request{}, fmt.Errorf("submit %s: %w", displayName, err)
	}

	m.logger.Info("conversion submitted",
		logging.String(logging.FieldRequestID, req.RequestID),
		logging.String(logging.FieldKey, key),
		logging.String("display_name", displayName))
	m.sink.ProcessingStarted(displayName, key)
	return req, nil
}

// SetParameters validates kv as flat key/value pairs, then restarts the
// worker with the resulting flags. Validation failures leave the worker
// untouched.
func (m *Manager) SetParameters(ctx context.Context, kv []string) ([]string, error) {
	flags, err := params.Validate(kv)
	if err != nil {
		m.sink.ParametersError(err.Error())
		return nil, err
	}

	m.flagsMu.Lock()
	previous := m.flags
	m.flags = flags
	m.flagsMu.Unlock()

	args, err := m.workerArgs()
	if err != nil {
		m.restoreFlags(previous)
		m.sink.ParametersError(err.Error())
		return nil, err
	}
	if err := m.sup.Restart(ctx, args); err != nil {
		m.restoreFlags(previous)
		m.sink.ParametersError(err.Error())
		return nil, fmt.Errorf("restart worker: %w", err)
	}
	m.sink.ParametersApplied(flags)
	return flags, nil
}

// Status reports the current pipeline snapshot.
func (m *Manager) Status() Status {
	m.flagsMu.Lock()
	flags := append([]string(nil), m.flags...)
	m.flagsMu.Unlock()
	return Status{
		DaemonState:  string(m.sup.State()),
		DaemonPID:    m.sup.Pid(),
		PendingCount: m.tracker.Count(),
		Flags:        flags,
	}
}

// Pending lists in-flight requests, oldest first.
func (m *Manager) Pending() []tracker.Request {
	return m.tracker.List()
}

func (m *Manager) restoreFlags(flags []string) {
	m.flagsMu.Lock()
	m.flags = flags
	m.flagsMu.Unlock()
}

func (m *Manager) workerArgs() ([]string, error) {
	extra, err := m.cfg.ExtraDaemonArgs()
	if err != nil {
		return nil, err
	}
	m.flagsMu.Lock()
	flags := append([]string(nil), m.flags...)
	m.flagsMu.Unlock()
	return append(extra, flags...), nil
}

func (m *Manager) outputDir(input string) string {
	if dir := strings.TrimSpace(m.cfg.Paths.OutputDir); dir != "" {
		return dir
	}
	return filepath.Dir(input)
}

func (m *Manager) normalizeInput(ctx context.Context, path string) (string, error) {
	m.normMu.Lock()
	norm := m.normalizer
	if norm == nil {
		built, err := normalize.New(m.cfg.Normalize.FFmpegPath)
		if err != nil {
			m.normMu.Unlock()
			return "", err
		}
		m.normalizer = built
		norm = built
	}
	m.normMu.Unlock()
	return norm.Normalize(ctx, path)
}

func (m *Manager) handleReady() {
	m.sink.DaemonReady()
}

func (m *Manager) handleLine(line string) {
	n := basicpitch.ParseLine(line)
	switch n.Kind {
	case basicpitch.KindSuccess:
		m.handleSuccess(n)
	case basicpitch.KindFailure:
		m.handleFailure(n)
	case basicpitch.KindProgress:
		m.handleProgress(n)
	default:
		m.logger.Debug("worker output", logging.String("line", line))
	}
}

// handleSuccess marks the output path processed before searching the
// tracker. Lines arrive one at a time, so a duplicate success for the
// same output always observes the mark of the first and is dropped.
// Taking the entry matches and removes it in one step, so a request
// resolves through at most one of this path and the stale sweep.
func (m *Manager) handleSuccess(n basicpitch.Notification) {
	if !m.processed.Mark(n.OutputPath) {
		m.logger.Debug("duplicate success notification suppressed",
			logging.String("output_path", n.OutputPath))
		return
	}

	base := strings.TrimSuffix(filepath.Base(n.OutputPath), filepath.Ext(n.OutputPath))
	req, ok := m.tracker.TakeByBaseName(base)
	if !ok {
		m.processed.Unmark(n.OutputPath)
		m.logger.Warn("success notification matched no pending request",
			logging.String("output_path", n.OutputPath))
		return
	}
	m.cleanup(req)

	elapsed := req.Age(time.Now())
	m.record(history.Entry{
		RequestID:   req.RequestID,
		DisplayName: req.DisplayName,
		InputPath:   req.OriginalInputPath,
		OutputPath:  n.OutputPath,
		Outcome:     history.OutcomeComplete,
		ByteCount:   n.ByteCount,
		Elapsed:     elapsed,
	})
	m.sink.ProcessingComplete(req.DisplayName, n.OutputPath, n.ByteCount, elapsed)
	m.processed.ForgetAfter(n.OutputPath, time.Duration(m.cfg.Workflow.DuplicateGrace)*time.Second)
}

func (m *Manager) handleFailure(n basicpitch.Notification) {
	req, ok := m.tracker.Remove(n.Key)
	if !ok {
		m.logger.Warn("failure notification matched no pending request",
			logging.String(logging.FieldKey, n.Key),
			logging.String("line", n.Raw))
		return
	}
	m.cleanup(req)
	m.record(history.Entry{
		RequestID:   req.RequestID,
		DisplayName: req.DisplayName,
		InputPath:   req.OriginalInputPath,
		Outcome:     history.OutcomeFailed,
		Diagnostic:  n.Raw,
		Elapsed:     req.Age(time.Now()),
	})
	m.sink.ProcessingError(req.DisplayName, n.Raw)
}

func (m *Manager) handleProgress(n basicpitch.Notification) {
	req, ok := m.tracker.Lookup(n.Key)
	if !ok {
		m.logger.Debug("progress notification matched no pending request",
			logging.String(logging.FieldKey, n.Key))
		return
	}
	m.sink.ProcessingProgress(req.DisplayName)
}

// handleExit discards every pending request; individual requests get no
// notification beyond the aggregate daemon-exited event.
func (m *Manager) handleExit(code int, expected bool) {
	cleared := m.tracker.Clear()
	for _, req := range cleared {
		m.cleanup(req)
	}
	if expected {
		return
	}
	if len(cleared) > 0 {
		m.logger.Warn("worker exit discarded pending requests",
			logging.Int("exit_code", code),
			logging.Int("discarded", len(cleared)))
	}
	m.sink.DaemonExited(code)
}

func (m *Manager) startReaper() {
	m.reapMu.Lock()
	defer m.reapMu.Unlock()
	if m.reapCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.reapCancel = cancel
	m.reapDone = done
	interval := time.Duration(m.cfg.Workflow.ReapInterval) * time.Second
	threshold := time.Duration(m.cfg.Workflow.StaleThreshold) * time.Second
	go m.reapLoop(ctx, done, interval, threshold)
}

func (m *Manager) stopReaper() {
	m.reapMu.Lock()
	cancel := m.reapCancel
	done := m.reapDone
	m.reapCancel = nil
	m.reapDone = nil
	m.reapMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) reapLoop(ctx context.Context, done chan struct{}, interval, threshold time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reapOnce(threshold, now)
		}
	}
}

// reapOnce evicts requests the worker never answered. Staleness is a
// diagnostic, not a hard error.
func (m *Manager) reapOnce(threshold time.Duration, now time.Time) {
	for _, req := range m.tracker.Evict(threshold, now) {
		m.cleanup(req)
		m.logger.Warn("stale request evicted",
			logging.String(logging.FieldRequestID, req.RequestID),
			logging.String(logging.FieldKey, req.Key),
			logging.Duration("age", req.Age(now)))
		m.record(history.Entry{
			RequestID:   req.RequestID,
			DisplayName: req.DisplayName,
			InputPath:   req.OriginalInputPath,
			Outcome:     history.OutcomeExpired,
			Elapsed:     req.Age(now),
		})
	}
}

func (m *Manager) cleanup(req tracker.Request) {
	if req.CleanupTarget == "" {
		return
	}
	m.removeFile(req.CleanupTarget)
}

func (m *Manager) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("cleanup failed",
			logging.String("path", path),
			logging.Error(err))
	}
}

func (m *Manager) record(entry history.Entry) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.journal.Record(ctx, entry); err != nil {
		m.logger.Warn("history record failed", logging.Error(err))
	}
}
