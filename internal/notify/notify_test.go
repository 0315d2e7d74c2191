package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/civalops/farmcoord/pkg/models"
)

func TestSlackWebhookPayload(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := SlackWebhook{WebhookURL: srv.URL, Channel: "#farms"}
	ev := models.Event{Type: "todo_created", Farm: "alpha", Agent: "momentum-1", TodoID: "t1", Timestamp: time.Now()}
	if err := s.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	text, _ := got["text"].(string)
	if text != "[todo_created] farm alpha agent momentum-1 todo t1" {
		t.Fatalf("text = %q", text)
	}
	if got["channel"] != "#farms" {
		t.Fatalf("channel = %v", got["channel"])
	}
}

func TestEventWebhookSendsRawEvent(t *testing.T) {
	t.Parallel()
	var got models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := models.Event{Type: "rebalanced", Farm: "alpha", Timestamp: time.Now().UTC()}
	if err := (EventWebhook{URL: srv.URL}).Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Type != "rebalanced" || got.Farm != "alpha" {
		t.Fatalf("event = %+v", got)
	}
}

func TestWebhookNon2xxIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := (EventWebhook{URL: srv.URL}).Notify(context.Background(), models.Event{Type: "x", Farm: "f"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestRegistryPublishFansOut(t *testing.T) {
	t.Parallel()
	hits := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRegistry(nil)
	r.Register(EventWebhook{URL: srv.URL + "/a"})
	r.Register(SlackWebhook{WebhookURL: srv.URL + "/b"})
	r.Publish(models.Event{Type: "todo_created", Farm: "f", Timestamp: time.Now()})

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case p := <-hits:
			seen[p] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}
	if !seen["/a"] || !seen["/b"] {
		t.Fatalf("deliveries = %v, want both endpoints", seen)
	}
}
