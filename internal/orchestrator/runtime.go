package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/lock"
	"github.com/AaronLay10/SentientDrill/internal/logger"
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/scoring"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

// ProfileApplier folds a terminal session into the user's behavior profile.
type ProfileApplier interface {
	Apply(ctx context.Context, sum model.Summary) (*model.BehaviorProfile, error)
}

// Engine runs training sessions. Actions on one session are applied one at a
// time; different sessions proceed in parallel.
type Engine struct {
	scenarios storage.ScenarioRepository
	sessions  storage.SessionRepository
	scorer    *scoring.Scorer
	bus       *events.Bus
	log       *logger.Logger

	profiles ProfileApplier
	locks    *lock.Local
	now      func() time.Time
}

// NewEngine creates a session engine.
func NewEngine(scenarios storage.ScenarioRepository, sessions storage.SessionRepository, scorer *scoring.Scorer, bus *events.Bus, log *logger.Logger) *Engine {
	if scorer == nil {
		scorer = scoring.New(scoring.DefaultConfig())
	}
	if bus == nil {
		bus = events.NewBus(256)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		scenarios: scenarios,
		sessions:  sessions,
		scorer:    scorer,
		bus:       bus,
		log:       log.With("component", "engine"),
		locks:     lock.NewLocal(),
		now:       time.Now,
	}
}

// SetProfileApplier sets the hook run when a session ends.
func (e *Engine) SetProfileApplier(p ProfileApplier) {
	e.profiles = p
}

// SetClock replaces the time source. Used in tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Start opens a session for userID on a stored scenario.
func (e *Engine) Start(ctx context.Context, scenarioID, userID string) (*model.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	def, err := e.scenarios.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}
	if err := scenario.Validate(def).Err(); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	s := &model.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ScenarioID:     def.ID,
		ScenarioType:   def.ScenarioType,
		Difficulty:     def.Difficulty,
		State:          model.StateCreated,
		StartedAt:      now,
		LastActivityAt: now,
		Log:            []model.LogEntry{},
	}
	if err := position(def, s); err != nil {
		return nil, err
	}
	if err := transition(s, model.StateActive, "start"); err != nil {
		return nil, err
	}

	// An entry that is already an outcome leaves nothing to do.
	complete := atTerminal(def, s)
	if complete {
		e.finish(s, model.StateCompleted, "", now)
	}

	if err := e.sessions.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	e.emit("info", "session.started", "", map[string]interface{}{
		"session_id":  s.ID,
		"user_id":     s.UserID,
		"scenario_id": s.ScenarioID,
		"difficulty":  s.Difficulty,
		"position":    s.CurrentNode,
	})
	e.log.Info("session started", "session_id", s.ID, "user_id", userID, "scenario_id", def.ID)

	if complete {
		e.emitTerminal(s)
		if err := e.foldProfile(ctx, s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// SubmitAction applies one user action. A sequence already in the log returns
// its recorded result unchanged.
func (e *Engine) SubmitAction(ctx context.Context, sessionID string, a model.Action) (model.ActionResult, error) {
	release, err := e.locks.Acquire(ctx, sessionID)
	if err != nil {
		return model.ActionResult{}, err
	}
	defer release()

	stored, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return model.ActionResult{}, err
	}

	if entry, ok := stored.FindLogged(a.Sequence); ok {
		if stored.State.IsTerminal() && !stored.ProfileApplied {
			s := stored.Clone()
			if err := e.foldProfile(ctx, s); err != nil {
				return entry.Result, err
			}
		}
		return entry.Result, nil
	}

	if stored.State != model.StateActive {
		return model.ActionResult{}, &StateError{SessionID: sessionID, State: stored.State, Op: "submit action"}
	}
	if a.Sequence <= stored.LastSequence {
		err := &ActionError{
			SessionID: sessionID,
			Sequence:  a.Sequence,
			Reason:    fmt.Sprintf("stale sequence, last applied is %d", stored.LastSequence),
		}
		e.reject(stored, a, err)
		return model.ActionResult{}, err
	}

	if a.ResponseTimeSeconds < 0 || math.IsNaN(a.ResponseTimeSeconds) {
		err := &ActionError{
			SessionID: sessionID,
			Sequence:  a.Sequence,
			Reason:    fmt.Sprintf("response time %v is negative", a.ResponseTimeSeconds),
		}
		e.reject(stored, a, err)
		return model.ActionResult{}, err
	}

	def, err := e.scenarios.GetScenario(ctx, stored.ScenarioID)
	if err != nil {
		return model.ActionResult{}, fmt.Errorf("failed to load scenario: %w", err)
	}

	now := e.now().UTC()
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}

	s := stored.Clone()
	ev, res, err := evaluate(e.scorer, def, s, a)
	if err != nil {
		var ae *ActionError
		if errors.As(err, &ae) {
			e.reject(stored, a, err)
		}
		return model.ActionResult{}, err
	}

	ev.SessionID = s.ID
	ev.ActionSequence = a.Sequence
	s.Score += ev.PointsDelta
	s.XP += ev.XPDelta
	s.LastSequence = a.Sequence
	s.LastActivityAt = now

	res.ScoreDelta = ev.PointsDelta
	res.XPDelta = ev.XPDelta
	res.SessionScore = s.Score

	if res.SessionComplete {
		e.finish(s, model.StateCompleted, "", now)
	}
	s.Log = append(s.Log, model.LogEntry{Action: a, Event: ev, Result: res})

	if err := e.sessions.SaveSession(ctx, s); err != nil {
		return model.ActionResult{}, fmt.Errorf("failed to save session: %w", err)
	}

	fields := map[string]interface{}{
		"session_id":   s.ID,
		"user_id":      s.UserID,
		"sequence":     a.Sequence,
		"action_type":  a.ActionType,
		"target_id":    a.TargetID,
		"correct":      res.Correct,
		"score_delta":  res.ScoreDelta,
		"score":        s.Score,
		"next_node":    res.NextNode,
		"complete":     res.SessionComplete,
		"feedback_msg": res.FeedbackMessage,
	}
	if ev.Trigger != "" {
		fields["trigger"] = string(ev.Trigger)
	}
	e.emit("info", "session.action", "", fields)

	if res.SessionComplete {
		e.emitTerminal(s)
		if err := e.foldProfile(ctx, s); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Cancel abandons an active session at the user's request.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (*model.Session, error) {
	return e.abandon(ctx, sessionID, model.ReasonCancelled, time.Time{})
}

// expire abandons the session if it has been idle since before cutoff.
func (e *Engine) expire(ctx context.Context, sessionID string, cutoff time.Time) (*model.Session, error) {
	return e.abandon(ctx, sessionID, model.ReasonTimeout, cutoff)
}

func (e *Engine) abandon(ctx context.Context, sessionID, reason string, idleBefore time.Time) (*model.Session, error) {
	release, err := e.locks.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !idleBefore.IsZero() && !stored.LastActivityAt.Before(idleBefore) {
		return nil, nil
	}

	s := stored.Clone()
	if !s.State.CanTransition(model.StateAbandoned) {
		return nil, &StateError{SessionID: sessionID, State: s.State, Op: reason}
	}
	now := e.now().UTC()
	e.finish(s, model.StateAbandoned, reason, now)
	s.LastActivityAt = now

	if err := e.sessions.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	e.emitTerminal(s)
	if err := e.foldProfile(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}

// Get returns a stored session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	return e.sessions.GetSession(ctx, sessionID)
}

func (e *Engine) finish(s *model.Session, state model.SessionState, reason string, now time.Time) {
	s.State = state
	s.AbandonReason = reason
	ended := now
	s.EndedAt = &ended
}

// foldProfile runs the profile hook for a terminal session and records that
// it succeeded. Failures leave profile_applied false so a replay can retry.
func (e *Engine) foldProfile(ctx context.Context, s *model.Session) error {
	if e.profiles == nil || s.ProfileApplied {
		return nil
	}
	if _, err := e.profiles.Apply(ctx, s.Summarize()); err != nil {
		e.log.Warn("profile update deferred", "session_id", s.ID, "user_id", s.UserID, "error", err)
		if errors.Is(err, profile.ErrTransient) {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
		return fmt.Errorf("session %s: %w: %w", s.ID, profile.ErrTransient, err)
	}

	s.ProfileApplied = true
	if err := e.sessions.SaveSession(ctx, s); err != nil {
		s.ProfileApplied = false
		return fmt.Errorf("session %s: %w: failed to record profile fold: %w", s.ID, profile.ErrTransient, err)
	}
	return nil
}

func (e *Engine) emitTerminal(s *model.Session) {
	name := "session.completed"
	level := "info"
	if s.State == model.StateAbandoned {
		name = "session.abandoned"
		level = "warn"
	}
	e.emit(level, name, s.AbandonReason, map[string]interface{}{
		"session_id":      s.ID,
		"user_id":         s.UserID,
		"scenario_id":     s.ScenarioID,
		"score":           s.Score,
		"display_score":   s.DisplayScore(),
		"xp":              s.XP,
		"correct_count":   s.CorrectCount,
		"incorrect_count": s.IncorrectCount,
		"reason":          s.AbandonReason,
	})
	e.log.Info("session ended", "session_id", s.ID, "state", s.State, "score", s.Score, "reason", s.AbandonReason)
}

func (e *Engine) reject(s *model.Session, a model.Action, err error) {
	e.emit("warn", "session.action_rejected", err.Error(), map[string]interface{}{
		"session_id":  s.ID,
		"user_id":     s.UserID,
		"sequence":    a.Sequence,
		"action_type": a.ActionType,
		"target_id":   a.TargetID,
	})
}

func (e *Engine) emit(level, name, msg string, fields map[string]interface{}) {
	if _, err := e.bus.Emit(level, name, msg, fields); err != nil {
		e.log.Error("failed to emit event", "event", name, "error", err)
	}
}
