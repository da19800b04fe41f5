package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pitchpipe/internal/config"
	"pitchpipe/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyConversionComplete(context.Background(), "a.mp3", "/out/a.mid", 2048, time.Second); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		_ = r.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyConversionComplete(context.Background(), "my_song.mp3", "/out/my_song.mid", 2048, 1500*time.Millisecond); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if captured.title != "Pitchpipe - My Song Converted" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if !strings.Contains(captured.body, "2048 bytes") || !strings.Contains(captured.body, "/out/my_song.mid") {
		t.Fatalf("unexpected body %q", captured.body)
	}
	if captured.tags != "pitchpipe,conversion,completed" {
		t.Fatalf("unexpected tags %q", captured.tags)
	}

	if err := svc.NotifyConversionFailed(context.Background(), "b.wav", "model blew up"); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if captured.title != "Pitchpipe - Conversion Failed" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if captured.priority != "high" {
		t.Fatalf("failure should be high priority, got %q", captured.priority)
	}
	if !strings.Contains(captured.body, "model blew up") {
		t.Fatalf("diagnostic missing from body %q", captured.body)
	}

	if err := svc.NotifyDaemonCrashed(context.Background(), 137, 3); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if !strings.Contains(captured.body, "code 137") || !strings.Contains(captured.body, "3 pending") {
		t.Fatalf("unexpected crash body %q", captured.body)
	}

	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if captured.priority != "low" {
		t.Fatalf("test notification should be low priority, got %q", captured.priority)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error from non-2xx response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("status code missing from error: %v", err)
	}
}
