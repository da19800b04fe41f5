// Package events defines the outbound event surface the conversion
// workflow reports through, with slog-backed and fan-out sinks.
package events

import (
	"log/slog"
	"sync"
	"time"

	"pitchpipe/internal/logging"
)

// Sink receives workflow and worker lifecycle events. Implementations
// must tolerate concurrent calls.
type Sink interface {
	DaemonReady()
	DaemonError(message string)
	DaemonExited(code int)
	ProcessingStarted(name, path string)
	ProcessingProgress(name string)
	ProcessingComplete(name, outputPath string, byteCount int64, elapsed time.Duration)
	ProcessingError(name, diagnostic string)
	ParametersApplied(flags []string)
	ParametersError(message string)
	ShutdownComplete()
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) DaemonReady()                                            {}
func (NopSink) DaemonError(string)                                      {}
func (NopSink) DaemonExited(int)                                        {}
func (NopSink) ProcessingStarted(string, string)                        {}
func (NopSink) ProcessingProgress(string)                               {}
func (NopSink) ProcessingComplete(string, string, int64, time.Duration) {}
func (NopSink) ProcessingError(string, string)                          {}
func (NopSink) ParametersApplied([]string)                              {}
func (NopSink) ParametersError(string)                                  {}
func (NopSink) ShutdownComplete()                                       {}

// LogSink reports every event through a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink wraps logger in a Sink. A nil logger yields a silent sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.NewComponentLogger(logger, "events")}
}

func (s *LogSink) DaemonReady() {
	s.logger.Info("worker ready", logging.String(logging.FieldEventType, "daemon_ready"))
}

func (s *LogSink) DaemonError(message string) {
	s.logger.Error("worker error",
		logging.String(logging.FieldEventType, "daemon_error"),
		logging.String("message", message))
}

func (s *LogSink) DaemonExited(code int) {
	s.logger.Warn("worker exited unexpectedly",
		logging.String(logging.FieldEventType, "daemon_exited"),
		logging.Int("exit_code", code))
}

func (s *LogSink) ProcessingStarted(name, path string) {
	s.logger.Info("conversion started",
		logging.String(logging.FieldEventType, "processing_started"),
		logging.String("name", name),
		logging.String("path", path))
}

func (s *LogSink) ProcessingProgress(name string) {
	s.logger.Debug("conversion in progress",
		logging.String(logging.FieldEventType, "processing_progress"),
		logging.String("name", name))
}

func (s *LogSink) ProcessingComplete(name, outputPath string, byteCount int64, elapsed time.Duration) {
	s.logger.Info("conversion complete",
		logging.String(logging.FieldEventType, "processing_complete"),
		logging.String("name", name),
		logging.String("output", outputPath),
		logging.Int64("bytes", byteCount),
		logging.Duration("elapsed", elapsed))
}

func (s *LogSink) ProcessingError(name, diagnostic string) {
	s.logger.Error("conversion failed",
		logging.String(logging.FieldEventType, "processing_error"),
		logging.String("name", name),
		logging.String("diagnostic", diagnostic))
}

func (s *LogSink) ParametersApplied(flags []string) {
	s.logger.Info("parameters applied",
		logging.String(logging.FieldEventType, "parameters_applied"),
		logging.Any("flags", flags))
}

func (s *LogSink) ParametersError(message string) {
	s.logger.Error("parameters rejected",
		logging.String(logging.FieldEventType, "parameters_error"),
		logging.String("message", message))
}

func (s *LogSink) ShutdownComplete() {
	s.logger.Info("shutdown complete", logging.String(logging.FieldEventType, "shutdown_complete"))
}

// Fanout replicates events to every registered sink in order.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a fan-out over the given sinks; nil entries are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	out := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (f *Fanout) DaemonReady() {
	for _, s := range f.sinks {
		s.DaemonReady()
	}
}

func (f *Fanout) DaemonError(message string) {
	for _, s := range f.sinks {
		s.DaemonError(message)
	}
}

func (f *Fanout) DaemonExited(code int) {
	for _, s := range f.sinks {
		s.DaemonExited(code)
	}
}

func (f *Fanout) ProcessingStarted(name, path string) {
	for _, s := range f.sinks {
		s.ProcessingStarted(name, path)
	}
}

func (f *Fanout) ProcessingProgress(name string) {
	for _, s := range f.sinks {
		s.ProcessingProgress(name)
	}
}

func (f *Fanout) ProcessingComplete(name, outputPath string, byteCount int64, elapsed time.Duration) {
	for _, s := range f.sinks {
		s.ProcessingComplete(name, outputPath, byteCount, elapsed)
	}
}

func (f *Fanout) ProcessingError(name, diagnostic string) {
	for _, s := range f.sinks {
		s.ProcessingError(name, diagnostic)
	}
}

func (f *Fanout) ParametersApplied(flags []string) {
	for _, s := range f.sinks {
		s.ParametersApplied(flags)
	}
}

func (f *Fanout) ParametersError(message string) {
	for _, s := range f.sinks {
		s.ParametersError(message)
	}
}

func (f *Fanout) ShutdownComplete() {
	for _, s := range f.sinks {
		s.ShutdownComplete()
	}
}

// Recorded is one captured event, for assertions in tests.
type Recorded struct {
	Kind      string
	Name      string
	Path      string
	Message   string
	ByteCount int64
	Elapsed   time.Duration
	ExitCode  int
	Flags     []string
}

// Recorder captures events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) append(e Recorded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything captured so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// ByKind returns captured events matching kind.
func (r *Recorder) ByKind(kind string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) DaemonReady() { r.append(Recorded{Kind: "daemon-ready"}) }

func (r *Recorder) DaemonError(message string) {
	r.append(Recorded{Kind: "daemon-error", Message: message})
}

func (r *Recorder) DaemonExited(code int) {
	r.append(Recorded{Kind: "daemon-exited", ExitCode: code})
}

func (r *Recorder) ProcessingStarted(name, path string) {
	r.append(Recorded{Kind: "processing-started", Name: name, Path: path})
}

func (r *Recorder) ProcessingProgress(name string) {
	r.append(Recorded{Kind: "processing-progress", Name: name})
}

func (r *Recorder) ProcessingComplete(name, outputPath string, byteCount int64, elapsed time.Duration) {
	r.append(Recorded{Kind: "processing-complete", Name: name, Path: outputPath, ByteCount: byteCount, Elapsed: elapsed})
}

func (r *Recorder) ProcessingError(name, diagnostic string) {
	r.append(Recorded{Kind: "processing-error", Name: name, Message: diagnostic})
}

func (r *Recorder) ParametersApplied(flags []string) {
	r.append(Recorded{Kind: "parameters-applied", Flags: append([]string(nil), flags...)})
}

func (r *Recorder) ParametersError(message string) {
	r.append(Recorded{Kind: "parameters-error", Message: message})
}

func (r *Recorder) ShutdownComplete() { r.append(Recorded{Kind: "shutdown-complete"}) }
