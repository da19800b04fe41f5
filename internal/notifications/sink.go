package notifications

import (
	"context"
	"log/slog"
	"time"

	"pitchpipe/internal/events"
	"pitchpipe/internal/logging"
)

// EventSink bridges outlet events to push notifications. Only terminal
// outcomes notify; progress and lifecycle chatter stay local. Sends run
// asynchronously so a slow ntfy endpoint never stalls line processing.
type EventSink struct {
	events.NopSink
	svc     Service
	logger  *slog.Logger
	timeout time.Duration
}

// NewEventSink builds the adapter.
func NewEventSink(svc Service, logger *slog.Logger) *EventSink {
	return &EventSink{
		svc:     svc,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		timeout: 15 * time.Second,
	}
}

func (s *EventSink) ProcessingComplete(name, outputPath string, byteCount int64, elapsed time.Duration) {
	s.dispatch(func(ctx context.Context) error {
		return s.svc.NotifyConversionComplete(ctx, name, outputPath, byteCount, elapsed)
	})
}

func (s *EventSink) ProcessingError(name, diagnostic string) {
	s.dispatch(func(ctx context.Context) error {
		return s.svc.NotifyConversionFailed(ctx, name, diagnostic)
	})
}

func (s *EventSink) DaemonExited(code int) {
	s.dispatch(func(ctx context.Context) error {
		return s.svc.NotifyDaemonCrashed(ctx, code, 0)
	})
}

func (s *EventSink) dispatch(send func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.Warn("notification delivery failed", logging.Error(err))
		}
	}()
}
