// Package notify delivers coordination events to external channels (Slack,
// generic webhooks). Delivery is fire-and-forget: a failed or slow notifier
// never blocks or fails the mutation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/civalops/farmcoord/pkg/models"
)

// Notifier is an integration that can deliver one coordination event.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev models.Event) error
}

// Registry holds loaded notifiers by name and fans events out to all of
// them. It implements coordinator.EventSink.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	log       *slog.Logger
	timeout   time.Duration
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		notifiers: make(map[string]Notifier),
		log:       log,
		timeout:   5 * time.Second,
	}
}

func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Name()] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// Publish delivers ev to every registered notifier in the background.
// Failures are logged and dropped.
func (r *Registry) Publish(ev models.Event) {
	r.mu.RLock()
	targets := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		targets = append(targets, n)
	}
	r.mu.RUnlock()

	for _, n := range targets {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := n.Notify(ctx, ev); err != nil {
				r.log.Warn("notifier delivery failed", "notifier", n.Name(), "event", ev.Type, "error", err)
			}
		}(n)
	}
}

// SlackWebhook posts a rendered event line to a Slack incoming webhook.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, ev models.Event) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": renderEvent(ev)}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return postJSON(ctx, s.WebhookURL, body, "slack")
}

// EventWebhook POSTs the raw event JSON to an arbitrary HTTP endpoint.
type EventWebhook struct {
	URL string
}

func (w EventWebhook) Name() string { return "webhook" }

func (w EventWebhook) Notify(ctx context.Context, ev models.Event) error {
	if w.URL == "" {
		return fmt.Errorf("event webhook URL not set")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return postJSON(ctx, w.URL, body, "webhook")
}

func postJSON(ctx context.Context, url string, body []byte, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d", name, resp.StatusCode)
	}
	return nil
}

func renderEvent(ev models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] farm %s", ev.Type, ev.Farm)
	if ev.Agent != "" {
		fmt.Fprintf(&b, " agent %s", ev.Agent)
	}
	if ev.TodoID != "" {
		fmt.Fprintf(&b, " todo %s", ev.TodoID)
	}
	return b.String()
}

// FromEnv registers notifiers configured through the environment:
// FARMCOORD_SLACK_WEBHOOK for Slack, FARMCOORD_EVENT_WEBHOOK for a generic
// endpoint. Returns the registry regardless of how many were configured.
func FromEnv(log *slog.Logger) *Registry {
	r := NewRegistry(log)
	if url := os.Getenv("FARMCOORD_SLACK_WEBHOOK"); url != "" {
		r.Register(SlackWebhook{
			WebhookURL: url,
			Channel:    os.Getenv("FARMCOORD_SLACK_CHANNEL"),
			Username:   os.Getenv("FARMCOORD_SLACK_USERNAME"),
		})
	}
	if url := os.Getenv("FARMCOORD_EVENT_WEBHOOK"); url != "" {
		r.Register(EventWebhook{URL: url})
	}
	return r
}
