package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "phantomflow/config"
)

func TestDiscordSenderPostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing json content type")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "Phantom Print Detected", "Price: **$102.00**"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.HasPrefix(got["content"], "**Phantom Print Detected**\n") {
		t.Fatalf("title should lead the content in bold: %q", got["content"])
	}
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "t", "m"); err == nil {
		t.Fatalf("non-2xx response should surface an error")
	}
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func TestDispatcherDeliversWithoutBlocking(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(appconfig.AlertingConfig{Enabled: true, RatePerMinute: 600}, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start dispatcher: %v", err)
	}

	d.Dispatch("Alert A", "message")
	d.Dispatch("Alert B", "message")

	deadline := time.Now().Add(5 * time.Second)
	for sender.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("alerts never delivered, got %d", sender.count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	d.Stop()
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(appconfig.AlertingConfig{Enabled: true, RatePerMinute: 600}, sender)

	// Never started: the queue fills and overflow must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			d.Dispatch("overflow", "message")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch blocked on a full queue")
	}
}
