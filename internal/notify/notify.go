package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/logger"
)

// Severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// DefaultEvents are forwarded when Config.Events is empty.
var DefaultEvents = []string{
	"session.completed",
	"session.abandoned",
	"profile.update_failed",
}

// Config holds webhook settings.
type Config struct {
	WebhookURL string        `yaml:"webhook_url"`
	Source     string        `yaml:"source"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	Events     []string      `yaml:"events"`
}

// Payload is the JSON body sent to the webhook.
type Payload struct {
	Source    string                 `json:"source"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Notifier posts selected bus events to a webhook. Delivery is best effort.
type Notifier struct {
	cfg    Config
	client *resty.Client
	bus    *events.Bus
	log    *logger.Logger
	want   map[string]bool

	sent   atomic.Int64
	failed atomic.Int64
}

// New creates a notifier. It returns nil if no webhook URL is configured.
func New(cfg Config, bus *events.Bus, log *logger.Logger) *Notifier {
	if cfg.WebhookURL == "" {
		return nil
	}
	if cfg.Source == "" {
		cfg.Source = "drilld"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	if log == nil {
		log = logger.Nop()
	}

	want := make(map[string]bool, len(cfg.Events))
	for _, name := range cfg.Events {
		want[name] = true
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Notifier{
		cfg:    cfg,
		client: client,
		bus:    bus,
		log:    log.With("component", "notify"),
		want:   want,
	}
}

// Wants returns true if events named name are forwarded.
func (n *Notifier) Wants(name string) bool {
	return n.want[name]
}

// Run forwards matching events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	sub := n.bus.Subscribe()
	defer n.bus.Unsubscribe(sub)

	n.log.Info("webhook notifications enabled", "events", n.cfg.Events)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if !n.Wants(ev.Name) {
				continue
			}
			if err := n.Notify(ctx, ev); err != nil {
				n.log.Warn("webhook delivery failed", "event", ev.Name, "error", err)
				n.bus.Emit("warn", "notify.failed", err.Error(), map[string]interface{}{
					"event":      ev.Name,
					"session_id": ev.SessionID(),
				})
			}
		}
	}
}

// Notify posts one event to the webhook.
func (n *Notifier) Notify(ctx context.Context, ev events.Event) error {
	payload := Payload{
		Source:    n.cfg.Source,
		Event:     ev.Name,
		Timestamp: ev.Timestamp,
		Severity:  Severity(ev),
		Message:   ev.Message,
		Details:   ev.Fields,
	}
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.cfg.WebhookURL)
	if err != nil {
		n.failed.Add(1)
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	if resp.StatusCode() >= 300 {
		n.failed.Add(1)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	n.sent.Add(1)
	return nil
}

// Stats returns delivered and failed counts.
func (n *Notifier) Stats() (sent, failed int64) {
	return n.sent.Load(), n.failed.Load()
}

// Severity classifies an event for the webhook payload.
func Severity(ev events.Event) string {
	switch ev.Name {
	case "profile.update_failed", "system.error":
		return SeverityCritical
	case "session.abandoned", "mqtt.disconnected":
		return SeverityWarning
	}
	if ev.Level == "error" {
		return SeverityCritical
	}
	return SeverityInfo
}
