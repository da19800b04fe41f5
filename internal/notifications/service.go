package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pitchpipe/internal/config"
)

const userAgent = "Pitchpipe-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyConversionComplete(ctx context.Context, name, outputPath string, byteCount int64, elapsed time.Duration) error
	NotifyConversionFailed(ctx context.Context, name, diagnostic string) error
	NotifyDaemonCrashed(ctx context.Context, exitCode, pendingCleared int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when
// configured. When no ntfy topic is configured, a noop implementation
// is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		titler:   cases.Title(language.English),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	titler   cases.Caser
}

func (n *ntfyService) NotifyConversionComplete(ctx context.Context, name, outputPath string, byteCount int64, elapsed time.Duration) error {
	name = strings.TrimSpace(name)
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	data := payload{
		title:   fmt.Sprintf("Pitchpipe - %s Converted", n.displayTitle(name)),
		message: fmt.Sprintf("MIDI ready: %s (%d bytes, %s)\nFile: %s", name, byteCount, elapsed, outputPath),
		tags:    []string{"pitchpipe", "conversion", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyConversionFailed(ctx context.Context, name, diagnostic string) error {
	name = strings.TrimSpace(name)
	diagnostic = strings.TrimSpace(diagnostic)
	if diagnostic == "" {
		diagnostic = "no diagnostic output"
	}
	data := payload{
		title:    "Pitchpipe - Conversion Failed",
		message:  fmt.Sprintf("Conversion failed: %s\n%s", name, diagnostic),
		tags:     []string{"pitchpipe", "conversion", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonCrashed(ctx context.Context, exitCode, pendingCleared int) error {
	message := fmt.Sprintf("Conversion worker exited unexpectedly with code %d", exitCode)
	if pendingCleared > 0 {
		message = fmt.Sprintf("%s\n%d pending conversions discarded", message, pendingCleared)
	}
	data := payload{
		title:    "Pitchpipe - Worker Crashed",
		message:  message,
		tags:     []string{"pitchpipe", "worker", "crashed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Pitchpipe - Test",
		message:  "Notification system test",
		tags:     []string{"pitchpipe", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

// displayTitle turns a file base name into a readable notification
// title fragment.
func (n *ntfyService) displayTitle(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "File"
	}
	return n.titler.String(name)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyConversionComplete(context.Context, string, string, int64, time.Duration) error {
	return nil
}
func (noopService) NotifyConversionFailed(context.Context, string, string) error { return nil }
func (noopService) NotifyDaemonCrashed(context.Context, int, int) error          { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
