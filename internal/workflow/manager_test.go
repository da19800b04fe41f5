package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pitchpipe/internal/config"
	"pitchpipe/internal/events"
	"pitchpipe/internal/history"
	"pitchpipe/internal/logging"
	"pitchpipe/internal/services/basicpitch"
	"pitchpipe/internal/tracker"
)

type fakeProcess struct {
	mu       sync.Mutex
	writes   []string
	stdout   chan string
	stderr   chan string
	done     chan struct{}
	exitCode int
	exitOnce sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		stdout: make(chan string, 32),
		stderr: make(chan string, 32),
		done:   make(chan struct{}),
	}
}

func (p *fakeProcess) WriteLine(line string) error {
	p.mu.Lock()
	p.writes = append(p.writes, line)
	p.mu.Unlock()
	if line == "quit" {
		p.exit(0)
	}
	return nil
}

func (p *fakeProcess) Stdout() <-chan string { return p.stdout }
func (p *fakeProcess) Stderr() <-chan string { return p.stderr }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Pid() int { return 9999 }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProcess) Kill() error {
	p.exit(-1)
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.stdout)
		close(p.stderr)
		close(p.done)
	})
}

func (p *fakeProcess) emit(line string) { p.stdout <- line }

func (p *fakeProcess) sentLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

type fakeLauncher struct {
	mu        sync.Mutex
	launched  []*fakeProcess
	args      [][]string
	autoReady bool
}

func (l *fakeLauncher) Launch(_ context.Context, _ string, args []string) (basicpitch.Process, error) {
	proc := newFakeProcess()
	l.mu.Lock()
	l.launched = append(l.launched, proc)
	l.args = append(l.args, append([]string(nil), args...))
	auto := l.autoReady
	l.mu.Unlock()
	if auto {
		proc.emit(basicpitch.ReadyMarker)
	}
	return proc, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return nil
	}
	return l.launched[len(l.launched)-1]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

// fakeNormalizer creates the sibling .proc.wav on disk, matching what
// the real transcoder leaves behind.
type fakeNormalizer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeNormalizer) Normalize(_ context.Context, input string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	output := strings.TrimSuffix(input, filepath.Ext(input)) + ".proc.wav"
	if writeErr := os.WriteFile(output, []byte("normalized"), 0o644); writeErr != nil {
		return "", writeErr
	}
	return output, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (j *fakeJournal) Record(_ context.Context, entry history.Entry) error {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
	return nil
}

func (j *fakeJournal) recorded() []history.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]history.Entry(nil), j.entries...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Daemon.Binary = "basic-pitch-daemon"
	cfg.Workflow.DuplicateGrace = 1
	return &cfg
}

func newTestManager(t *testing.T, cfg *config.Config, rec *events.Recorder, launcher *fakeLauncher, norm Normalizer) *Manager {
	t.Helper()
	opts := []Option{WithLauncher(launcher)}
	if norm != nil {
		opts = append(opts, WithNormalizer(norm))
	}
	mgr, err := NewManager(cfg, rec, nil, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func startReadyManager(t *testing.T, mgr *Manager) {
	t.Helper()
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	waitFor(t, func() bool { return mgr.Status().DaemonState == string(basicpitch.StateReady) })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func audioFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSubmitWritesDirectiveAndCompletes(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	input := audioFile(t, t.TempDir(), "song.wav")
	req, err := mgr.Submit(context.Background(), input, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.RequestID == "" {
		t.Fatal("request id not assigned")
	}

	proc := launcher.last()
	lines := proc.sentLines()
	want := `process "` + input + `" "` + cfg.Paths.OutputDir + `"`
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("unexpected directive %v, want %q", lines, want)
	}
	if got := rec.ByKind("processing-started"); len(got) != 1 || got[0].Name != "song.wav" {
		t.Fatalf("unexpected started events %v", got)
	}

	outputPath := filepath.Join(cfg.Paths.OutputDir, "song.mid")
	proc.emit("Processing: " + input)
	proc.emit(`SUCCESS: "` + outputPath + `" (2048 bytes)`)
	waitFor(t, func() bool { return len(rec.ByKind("processing-complete")) == 1 })

	complete := rec.ByKind("processing-complete")[0]
	if complete.Name != "song.wav" || complete.Path != outputPath || complete.ByteCount != 2048 {
		t.Fatalf("unexpected complete event %+v", complete)
	}
	if complete.Elapsed < 0 {
		t.Fatalf("negative elapsed %v", complete.Elapsed)
	}
	if len(rec.ByKind("processing-progress")) != 1 {
		t.Fatalf("expected one progress event, got %v", rec.ByKind("processing-progress"))
	}
	if mgr.Status().PendingCount != 0 {
		t.Fatal("request still pending after completion")
	}
}

func TestDuplicateSuccessNotificationsSuppressed(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	input := audioFile(t, t.TempDir(), "song.wav")
	if _, err := mgr.Submit(context.Background(), input, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	proc := launcher.last()
	outputPath := filepath.Join(cfg.Paths.OutputDir, "song.mid")
	success := `SUCCESS: "` + outputPath + `" (100 bytes)`
	proc.emit(success)
	proc.emit(success)
	proc.emit(success)
	waitFor(t, func() bool { return len(rec.ByKind("processing-complete")) >= 1 })
	// Let the trailing duplicates drain before counting.
	time.Sleep(50 * time.Millisecond)
	if got := rec.ByKind("processing-complete"); len(got) != 1 {
		t.Fatalf("expected exactly one complete event, got %d", len(got))
	}
}

func TestSuccessAfterEvictionResolvesOnce(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	journal := &fakeJournal{}
	mgr, err := NewManager(cfg, rec, journal, logging.NewNop(), WithLauncher(launcher))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	startReadyManager(t, mgr)

	input := audioFile(t, t.TempDir(), "song.wav")
	if _, err := mgr.Submit(context.Background(), input, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The sweep expires the request before the worker answers.
	mgr.reapOnce(0, time.Now().Add(time.Minute))
	if mgr.Status().PendingCount != 0 {
		t.Fatal("sweep left the request pending")
	}

	other := audioFile(t, t.TempDir(), "other.wav")
	if _, err := mgr.Submit(context.Background(), other, false); err != nil {
		t.Fatalf("Submit other: %v", err)
	}

	outputPath := filepath.Join(cfg.Paths.OutputDir, "song.mid")
	proc := launcher.last()
	proc.emit(`SUCCESS: "` + outputPath + `" (100 bytes)`)
	// Lines are handled in order, so once the failure below is observed
	// the late success has already been processed.
	proc.emit("Error processing " + other + ": boom")
	waitFor(t, func() bool { return len(rec.ByKind("processing-error")) == 1 })

	if got := rec.ByKind("processing-complete"); len(got) != 0 {
		t.Fatalf("expired request must not also complete, got %v", got)
	}
	outcomes := make(map[history.Outcome]int)
	for _, entry := range journal.recorded() {
		outcomes[entry.Outcome]++
	}
	if outcomes[history.OutcomeExpired] != 1 || outcomes[history.OutcomeComplete] != 0 {
		t.Fatalf("expected a single expired record and no complete record, got %v", outcomes)
	}
	if mgr.processed.Contains(outputPath) {
		t.Fatal("unmatched success must release the processed mark")
	}
}

func TestNormalizedSubmissionCorrelatesAndCleansUp(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	norm := &fakeNormalizer{}
	mgr := newTestManager(t, cfg, rec, launcher, norm)
	startReadyManager(t, mgr)

	dir := t.TempDir()
	input := audioFile(t, dir, "a.mp3")
	req, err := mgr.Submit(context.Background(), input, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	normalized := filepath.Join(dir, "a.proc.wav")
	if req.Key != normalized || req.CleanupTarget != normalized {
		t.Fatalf("tracker not keyed on normalized path: %+v", req)
	}
	if req.OriginalBaseName != "a" || req.DisplayName != "a.mp3" {
		t.Fatalf("original metadata not preserved: %+v", req)
	}

	proc := launcher.last()
	proc.emit(`SUCCESS: "/out/a.mid" (2048 bytes)`)
	waitFor(t, func() bool { return len(rec.ByKind("processing-complete")) == 1 })

	complete := rec.ByKind("processing-complete")[0]
	if complete.Name != "a.mp3" || complete.Path != "/out/a.mid" || complete.ByteCount != 2048 {
		t.Fatalf("unexpected complete event %+v", complete)
	}
	waitFor(t, func() bool {
		_, err := os.Stat(normalized)
		return os.IsNotExist(err)
	})
}

func TestNormalizationFailureLeavesNoTrackerEntry(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	norm := &fakeNormalizer{err: os.ErrPermission}
	mgr := newTestManager(t, cfg, rec, launcher, norm)
	startReadyManager(t, mgr)

	input := audioFile(t, t.TempDir(), "a.mp3")
	if _, err := mgr.Submit(context.Background(), input, true); err == nil {
		t.Fatal("expected normalization failure to abort submission")
	}
	if mgr.Status().PendingCount != 0 {
		t.Fatal("failed submission must not leave a tracker entry")
	}
	if lines := launcher.last().sentLines(); len(lines) != 0 {
		t.Fatalf("no directive should reach the worker, got %v", lines)
	}
}

func TestDuplicateKeyRejectedWhileOutstanding(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	input := audioFile(t, t.TempDir(), "song.wav")
	if _, err := mgr.Submit(context.Background(), input, false); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := mgr.Submit(context.Background(), input, false)
	if err == nil {
		t.Fatal("second submission for the same key must be rejected")
	}
	if !strings.Contains(err.Error(), "already pending") {
		t.Fatalf("unexpected rejection error: %v", err)
	}
	if mgr.Status().PendingCount != 1 {
		t.Fatalf("rejection must not disturb the outstanding entry, pending=%d", mgr.Status().PendingCount)
	}
}

func TestFailureNotificationResolvesExactKey(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	input := audioFile(t, t.TempDir(), "song.wav")
	if _, err := mgr.Submit(context.Background(), input, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	proc := launcher.last()
	proc.emit("Error processing " + input + ": model blew up")
	waitFor(t, func() bool { return len(rec.ByKind("processing-error")) == 1 })

	failure := rec.ByKind("processing-error")[0]
	if failure.Name != "song.wav" || !strings.Contains(failure.Message, "model blew up") {
		t.Fatalf("unexpected failure event %+v", failure)
	}
	if mgr.Status().PendingCount != 0 {
		t.Fatal("failed request still pending")
	}
}

func TestUnmatchedNotificationsAreNotFatal(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	proc := launcher.last()
	proc.emit(`SUCCESS: "/out/stranger.mid" (1 bytes)`)
	proc.emit("Error processing /in/stranger.wav: nope")

	input := audioFile(t, t.TempDir(), "song.wav")
	if _, err := mgr.Submit(context.Background(), input, false); err != nil {
		t.Fatalf("Submit after unmatched notifications: %v", err)
	}
	if len(rec.ByKind("processing-complete")) != 0 || len(rec.ByKind("processing-error")) != 0 {
		t.Fatal("unmatched notifications must not produce caller events")
	}
}

func TestUnexpectedExitClearsAllPending(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	norm := &fakeNormalizer{}
	mgr := newTestManager(t, cfg, rec, launcher, norm)
	startReadyManager(t, mgr)

	dir := t.TempDir()
	if _, err := mgr.Submit(context.Background(), audioFile(t, dir, "a.wav"), false); err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	reqB, err := mgr.Submit(context.Background(), audioFile(t, dir, "b.mp3"), true)
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	launcher.last().exit(137)
	waitFor(t, func() bool { return len(rec.ByKind("daemon-exited")) == 1 })

	if got := rec.ByKind("daemon-exited")[0]; got.ExitCode != 137 {
		t.Fatalf("unexpected exit event %+v", got)
	}
	if mgr.Status().PendingCount != 0 {
		t.Fatal("pending requests survived the worker exit")
	}
	if _, err := os.Stat(reqB.CleanupTarget); !os.IsNotExist(err) {
		t.Fatal("cleanup target not removed on worker exit")
	}
	// No per-request events beyond the aggregate exit.
	if len(rec.ByKind("processing-error")) != 0 {
		t.Fatal("individual requests must not be notified on worker exit")
	}
}

func TestSetParametersRestartsWorkerWithFlags(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	flags, err := mgr.SetParameters(context.Background(), []string{"onset-threshold", "0.8", "use-melodia-trick", "0"})
	if err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	joined := strings.Join(flags, " ")
	if !strings.Contains(joined, "--onset-threshold 0.8") || !strings.Contains(joined, "--no-melodia-trick") {
		t.Fatalf("unexpected flags %v", flags)
	}
	waitFor(t, func() bool { return mgr.Status().DaemonState == string(basicpitch.StateReady) })

	if launcher.count() != 2 {
		t.Fatalf("expected a restart launch, got %d launches", launcher.count())
	}
	launcher.mu.Lock()
	secondArgs := strings.Join(launcher.args[1], " ")
	launcher.mu.Unlock()
	if !strings.Contains(secondArgs, "--onset-threshold 0.8") {
		t.Fatalf("restart args missing flags: %q", secondArgs)
	}
	if applied := rec.ByKind("parameters-applied"); len(applied) != 1 {
		t.Fatalf("expected one parameters-applied event, got %v", applied)
	}
}

func TestSetParametersRejectsInvalidInputWithoutRestart(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	startReadyManager(t, mgr)

	if _, err := mgr.SetParameters(context.Background(), []string{"onset-threshold", "2.5"}); err == nil {
		t.Fatal("out-of-range value must be rejected")
	}
	if launcher.count() != 1 {
		t.Fatal("invalid parameters must not restart the worker")
	}
	if len(rec.ByKind("parameters-error")) != 1 {
		t.Fatal("expected a parameters-error event")
	}
	if len(mgr.Status().Flags) != 0 {
		t.Fatal("rejected parameters must not be retained")
	}
}

func TestReaperEvictsStaleRequests(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)

	leftover := audioFile(t, t.TempDir(), "stale.proc.wav")
	now := time.Now()
	stale := tracker.Request{
		Key:           leftover,
		RequestID:     "stale-1",
		SubmittedAt:   now.Add(-time.Minute),
		DisplayName:   "stale.mp3",
		CleanupTarget: leftover,
	}
	fresh := tracker.Request{
		Key:         "/in/fresh.wav",
		RequestID:   "fresh-1",
		SubmittedAt: now.Add(-time.Second),
		DisplayName: "fresh.wav",
	}
	if err := mgr.tracker.Register(stale); err != nil {
		t.Fatalf("register stale: %v", err)
	}
	if err := mgr.tracker.Register(fresh); err != nil {
		t.Fatalf("register fresh: %v", err)
	}

	mgr.reapOnce(20*time.Second, now)

	if _, ok := mgr.tracker.Lookup(stale.Key); ok {
		t.Fatal("stale request survived the sweep")
	}
	if _, ok := mgr.tracker.Lookup(fresh.Key); !ok {
		t.Fatal("fresh request evicted")
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatal("stale cleanup target not removed")
	}
}

func TestShutdownEmitsShutdownComplete(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	launcher := &fakeLauncher{autoReady: true}
	mgr := newTestManager(t, cfg, rec, launcher, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return mgr.Status().DaemonState == string(basicpitch.StateReady) })

	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(rec.ByKind("shutdown-complete")) != 1 {
		t.Fatal("expected a shutdown-complete event")
	}
	if mgr.Status().DaemonState != string(basicpitch.StateStopped) {
		t.Fatalf("worker not stopped: %s", mgr.Status().DaemonState)
	}
}
