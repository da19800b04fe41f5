package basicpitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pitchpipe/internal/logging"
)

// State is the worker lifecycle state. Only the Supervisor mutates it.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateRestarting State = "restarting"
)

// ErrAlreadyRunning is returned by Start while a worker instance exists.
var ErrAlreadyRunning = errors.New("worker already running; stop it first")

// ErrNotReady is returned by Submit unless the worker has printed its
// readiness marker.
var ErrNotReady = errors.New("worker is not ready for submissions")

// Hooks receive worker lifecycle and protocol callbacks. All hooks are
// invoked from the supervisor's single consume goroutine, so stdout
// lines arrive strictly in order, one at a time.
type Hooks struct {
	// OnReady fires once per start, when the readiness marker appears.
	OnReady func()
	// OnLine receives every post-readiness stdout line.
	OnLine func(line string)
	// OnExit fires after the worker exits and output is drained.
	// expected is true for supervisor-initiated stops and restarts.
	OnExit func(code int, expected bool)
}

// Options configures a Supervisor.
type Options struct {
	// Binary is the worker executable.
	Binary string
	// WorkDir is passed to the worker as its --daemon scratch directory.
	WorkDir string
	// StopTimeout bounds the graceful-quit wait before a force kill.
	StopTimeout time.Duration
	// StartupTimeout bounds the wait for the readiness marker.
	StartupTimeout time.Duration
	// StderrSuppress lists substrings of known-benign stderr warnings
	// that are logged at debug instead of warn. Cosmetic only.
	StderrSuppress []string
	// Launcher overrides process creation, primarily for tests.
	Launcher Launcher
	Logger   *slog.Logger
}

// Supervisor owns the worker subprocess lifecycle. All other components
// read its state but never mutate it.
type Supervisor struct {
	binary         string
	workDir        string
	stopTimeout    time.Duration
	startupTimeout time.Duration
	suppress       []string
	launcher       Launcher
	logger         *slog.Logger
	hooks          Hooks

	mu         sync.Mutex
	state      State
	proc       Process
	exited     chan struct{}
	stopping   bool
	restarting bool
}

// New constructs a stopped Supervisor.
func New(opts Options, hooks Hooks) (*Supervisor, error) {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		return nil, errors.New("worker binary required")
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = NewLauncher()
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 3 * time.Second
	}
	startupTimeout := opts.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	return &Supervisor{
		binary:         binary,
		workDir:        opts.WorkDir,
		stopTimeout:    stopTimeout,
		startupTimeout: startupTimeout,
		suppress:       append([]string(nil), opts.StderrSuppress...),
		launcher:       launcher,
		logger:         logging.NewComponentLogger(opts.Logger, "supervisor"),
		hooks:          hooks,
		state:          StateStopped,
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the worker process id, or 0 when no worker is running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Start launches the worker with the fixed base arguments plus extraArgs.
// Start is refused while a worker exists or another launch is in flight.
// A failed spawn leaves the supervisor stopped and returns the launch error.
func (s *Supervisor) Start(ctx context.Context, extraArgs []string) error {
	s.mu.Lock()
	if s.proc != nil || s.state == StateStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.mu.Unlock()

	args := append([]string{"--daemon", s.workDir}, extraArgs...)
	proc, err := s.launcher.Launch(ctx, s.binary, args)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("launch worker: %w", err)
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.proc = proc
	s.exited = exited
	s.stopping = false
	s.mu.Unlock()

	s.logger.Info("worker launched",
		logging.String("binary", s.binary),
		logging.Int("pid", proc.Pid()),
		logging.Any("args", args))

	go s.consume(proc, exited)
	return nil
}

// Stop requests a graceful shutdown via the quit directive, waits up to
// the stop timeout, then force-kills. It returns once the worker has
// actually exited. Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	exited := s.exited
	if proc == nil {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	if !s.restarting {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if err := proc.WriteLine("quit"); err != nil {
		s.logger.Debug("quit directive not delivered", logging.Error(err))
	}

	select {
	case <-exited:
	case <-time.After(s.stopTimeout):
		s.logger.Warn("worker ignored quit directive, force killing",
			logging.Int("pid", proc.Pid()))
		if err := proc.Kill(); err != nil {
			s.logger.Warn("force kill failed", logging.Error(err))
		}
		<-exited
	case <-ctx.Done():
		_ = proc.Kill()
		<-exited
		return ctx.Err()
	}
	return nil
}

// Restart performs Stop followed by Start as one operation, so callers
// never observe a state where no restart is in progress but the worker
// is also not ready.
func (s *Supervisor) Restart(ctx context.Context, extraArgs []string) error {
	s.mu.Lock()
	running := s.proc != nil
	if running {
		s.restarting = true
		s.state = StateRestarting
	}
	s.mu.Unlock()

	if running {
		err := s.Stop(ctx)
		s.mu.Lock()
		s.restarting = false
		if err != nil {
			s.state = StateStopped
			s.mu.Unlock()
			return err
		}
		// State holds at restarting until Start flips it to starting, so
		// readers never observe a stopped worker mid-restart.
		s.mu.Unlock()
	}
	return s.Start(ctx, extraArgs)
}

// Submit writes a conversion directive for path, directing output to
// outputDir. Legal only while the worker is ready.
func (s *Supervisor) Submit(path, outputDir string) error {
	s.mu.Lock()
	proc := s.proc
	ready := s.state == StateReady
	s.mu.Unlock()
	if !ready || proc == nil {
		return ErrNotReady
	}
	return proc.WriteLine(fmt.Sprintf("process %q %q", path, outputDir))
}

// consume owns all reads from one worker instance. Stdout lines are
// handled strictly in arrival order; the exit hook fires only after
// both streams are drained.
func (s *Supervisor) consume(proc Process, exited chan struct{}) {
	ready := false
	readyDeadline := time.AfterFunc(s.startupTimeout, func() {
		s.mu.Lock()
		stillStarting := s.proc == proc && s.state == StateStarting
		s.mu.Unlock()
		if stillStarting {
			s.logger.Error("worker never became ready, killing",
				logging.Duration("timeout", s.startupTimeout))
			_ = proc.Kill()
		}
	})
	defer readyDeadline.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for line := range proc.Stderr() {
			if s.suppressed(line) {
				s.logger.Debug("worker stderr (suppressed)", logging.String("line", line))
				continue
			}
			s.logger.Warn("worker stderr", logging.String("line", line))
		}
	}()

	for line := range proc.Stdout() {
		if !ready {
			if strings.Contains(line, ReadyMarker) {
				ready = true
				readyDeadline.Stop()
				s.mu.Lock()
				if s.proc == proc {
					s.state = StateReady
				}
				s.mu.Unlock()
				s.logger.Info("worker ready", logging.String(logging.FieldDaemonState, string(StateReady)))
				if s.hooks.OnReady != nil {
					s.hooks.OnReady()
				}
			} else {
				s.logger.Debug("worker startup output", logging.String("line", line))
			}
			continue
		}
		if s.hooks.OnLine != nil {
			s.hooks.OnLine(line)
		}
	}

	wg.Wait()
	<-proc.Done()
	code := proc.ExitCode()

	s.mu.Lock()
	expected := s.stopping
	if s.proc == proc {
		s.proc = nil
		s.exited = nil
		s.stopping = false
		if !s.restarting {
			s.state = StateStopped
		}
	}
	s.mu.Unlock()

	if expected {
		s.logger.Info("worker stopped", logging.Int("exit_code", code))
	} else {
		s.logger.Error("worker exited unexpectedly", logging.Int("exit_code", code))
	}
	close(exited)
	if s.hooks.OnExit != nil {
		s.hooks.OnExit(code, expected)
	}
}

func (s *Supervisor) suppressed(line string) bool {
	for _, marker := range s.suppress {
		if marker != "" && strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
