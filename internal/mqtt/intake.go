package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientDrill/internal/logger"
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/orchestrator"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

// ActionSubmitter applies an action to a session.
type ActionSubmitter interface {
	SubmitAction(ctx context.Context, sessionID string, a model.Action) (model.ActionResult, error)
}

// Reply is published on the feedback topic for every action received over MQTT.
type Reply struct {
	SessionID string              `json:"session_id"`
	Sequence  int64               `json:"sequence"`
	Result    *model.ActionResult `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Code      string              `json:"code,omitempty"`
}

// ActionIntake subscribes to the session action topics and feeds decoded
// actions to the engine. Subscription is idempotent across reconnects.
type ActionIntake struct {
	transport Transport
	engine    ActionSubmitter
	prefix    string
	timeout   time.Duration
	log       *logger.Logger

	mu         sync.Mutex
	subscribed bool
	ctx        context.Context
}

// NewActionIntake creates an intake for topics under prefix.
func NewActionIntake(t Transport, engine ActionSubmitter, prefix string, log *logger.Logger) *ActionIntake {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ActionIntake{
		transport: t,
		engine:    engine,
		prefix:    prefix,
		timeout:   10 * time.Second,
		log:       log.With("component", "mqtt-intake"),
		ctx:       context.Background(),
	}
}

// Start subscribes to the wildcard action topic. Handlers derive their
// contexts from ctx.
func (in *ActionIntake) Start(ctx context.Context) error {
	in.mu.Lock()
	in.ctx = ctx
	if in.subscribed {
		in.mu.Unlock()
		return nil
	}
	in.mu.Unlock()

	topic := ActionsWildcard(in.prefix)
	if err := in.transport.Subscribe(topic, in.handle); err != nil {
		return err
	}

	in.mu.Lock()
	in.subscribed = true
	in.mu.Unlock()
	in.log.Info("subscribed to actions", "topic", topic)
	return nil
}

// Reset clears the subscription flag so the next Start subscribes again.
// Call this when the broker connection drops.
func (in *ActionIntake) Reset() {
	in.mu.Lock()
	in.subscribed = false
	in.mu.Unlock()
}

// IsSubscribed returns true if the action topic is subscribed.
func (in *ActionIntake) IsSubscribed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.subscribed
}

func (in *ActionIntake) handle(_ paho.Client, msg paho.Message) {
	sessionID, ok := SessionFromActionsTopic(in.prefix, msg.Topic())
	if !ok {
		in.log.Warn("ignoring message on unexpected topic", "topic", msg.Topic())
		return
	}

	reply := Reply{SessionID: sessionID}
	var a model.Action
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		reply.Error = "invalid action payload: " + err.Error()
		reply.Code = "bad_request"
		in.reply(reply)
		return
	}
	reply.Sequence = a.Sequence

	in.mu.Lock()
	base := in.ctx
	in.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, in.timeout)
	defer cancel()

	res, err := in.engine.SubmitAction(ctx, sessionID, a)
	if err != nil {
		reply.Error = err.Error()
		reply.Code = ErrorCode(err)
		// The action was applied; only the profile fold is pending.
		if errors.Is(err, profile.ErrTransient) {
			reply.Result = &res
		}
	} else {
		reply.Result = &res
	}
	in.reply(reply)
}

func (in *ActionIntake) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		in.log.Error("failed to encode reply", "session_id", r.SessionID, "error", err)
		return
	}
	if err := in.transport.Publish(FeedbackTopic(in.prefix, r.SessionID), data); err != nil {
		in.log.Warn("failed to publish reply", "session_id", r.SessionID, "error", err)
	}
}

// ErrorCode maps engine errors to stable reply codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, orchestrator.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, profile.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
