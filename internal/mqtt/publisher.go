package mqtt

import (
	"context"
	"encoding/json"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/logger"
)

// Publisher forwards bus events to the broker. Session events go to the
// session's feedback topic, everything else to the events topic.
type Publisher struct {
	transport Transport
	bus       *events.Bus
	prefix    string
	log       *logger.Logger
}

// NewPublisher creates a publisher for topics under prefix.
func NewPublisher(t Transport, bus *events.Bus, prefix string, log *logger.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		transport: t,
		bus:       bus,
		prefix:    prefix,
		log:       log.With("component", "mqtt-publisher"),
	}
}

// Run publishes events until ctx is done or the bus closes the subscription.
// Publish failures are logged and dropped.
func (p *Publisher) Run(ctx context.Context) error {
	sub := p.bus.Subscribe()
	defer p.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			p.publish(ev)
		}
	}
}

func (p *Publisher) publish(ev events.Event) {
	// Don't echo our own connection events back to the broker.
	if ev.Name == "mqtt.connected" || ev.Name == "mqtt.disconnected" {
		return
	}
	if !p.transport.IsConnected() {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to encode event", "event", ev.Name, "error", err)
		return
	}

	topic := EventsTopic(p.prefix)
	if id := ev.SessionID(); id != "" {
		topic = FeedbackTopic(p.prefix, id)
	}
	if err := p.transport.Publish(topic, data); err != nil {
		p.log.Warn("failed to publish event", "event", ev.Name, "topic", topic, "error", err)
	}
}
