package model

import (
	"time"

	"github.com/AaronLay10/SentientDrill/internal/scoring"
)

// SessionState is the lifecycle position of a session.
// Allowed states: created, active, completed, abandoned
type SessionState string

const (
	StateCreated   SessionState = "created"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
	StateAbandoned SessionState = "abandoned"
)

// IsTerminal reports whether no further actions are accepted.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// CanTransition reports whether moving from s to next is a forward move.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StateCreated:
		return next == StateActive || next == StateAbandoned
	case StateActive:
		return next == StateCompleted || next == StateAbandoned
	default:
		return false
	}
}

// Abandon reasons.
const (
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
)

// Action is one user input submitted to a session.
type Action struct {
	Sequence            int64     `json:"sequence"`
	Timestamp           time.Time `json:"timestamp"`
	ActionType          string    `json:"action_type"`
	TargetID            string    `json:"target_id,omitempty"`
	ResponseTimeSeconds float64   `json:"response_time_seconds"`
}

// Name is the identifier matched against an ordered step's expected action.
func (a Action) Name() string {
	if a.TargetID != "" {
		return a.TargetID
	}
	return a.ActionType
}

// ActionResult is what the engine returns for an accepted action.
type ActionResult struct {
	ScoreDelta      int    `json:"score_delta"`
	XPDelta         int    `json:"xp_delta"`
	Correct         bool   `json:"correct"`
	FeedbackMessage string `json:"feedback_message,omitempty"`
	NextNode        string `json:"next_node,omitempty"`
	NextStep        *int   `json:"next_step,omitempty"`
	SessionComplete bool   `json:"session_complete"`
	SessionScore    int    `json:"session_score"`
}

// LogEntry records an applied action with its score and the result returned.
type LogEntry struct {
	Action Action        `json:"action"`
	Event  scoring.Event `json:"event"`
	Result ActionResult  `json:"result"`
}

// Session is one run of one user through one scenario.
type Session struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	ScenarioID       string       `json:"scenario_id"`
	ScenarioType     string       `json:"scenario_type,omitempty"`
	Difficulty       int          `json:"difficulty"`
	State            SessionState `json:"state"`
	CurrentNode      string       `json:"current_node,omitempty"`
	CurrentStepIndex int          `json:"current_step_index"`
	StartedAt        time.Time    `json:"started_at"`
	LastActivityAt   time.Time    `json:"last_activity_at"`
	EndedAt          *time.Time   `json:"ended_at,omitempty"`
	Score            int          `json:"score"`
	XP               int          `json:"xp"`
	CorrectCount     int          `json:"correct_count"`
	IncorrectCount   int          `json:"incorrect_count"`
	LastSequence     int64        `json:"last_sequence"`
	Log              []LogEntry   `json:"log"`
	AbandonReason    string       `json:"abandon_reason,omitempty"`
	ProfileApplied   bool         `json:"profile_applied"`
}

// DisplayScore is the score shown to trainees; it never goes below zero.
func (s *Session) DisplayScore() int {
	if s.Score < 0 {
		return 0
	}
	return s.Score
}

// Clone returns a deep copy safe to mutate.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Log = make([]LogEntry, len(s.Log))
	for i, e := range s.Log {
		c.Log[i] = e
		if e.Result.NextStep != nil {
			n := *e.Result.NextStep
			c.Log[i].Result.NextStep = &n
		}
	}
	return &c
}

// FindLogged returns the log entry for a sequence number.
func (s *Session) FindLogged(seq int64) (LogEntry, bool) {
	for _, e := range s.Log {
		if e.Action.Sequence == seq {
			return e, true
		}
	}
	return LogEntry{}, false
}

// Events returns the score events of the log in order.
func (s *Session) Events() []scoring.Event {
	out := make([]scoring.Event, 0, len(s.Log))
	for _, e := range s.Log {
		out = append(out, e.Event)
	}
	return out
}

// Summary is the view of a terminal session consumed by the profile aggregator.
type Summary struct {
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id"`
	Difficulty int             `json:"difficulty"`
	State      SessionState    `json:"state"`
	Events     []scoring.Event `json:"events"`
	EndedAt    time.Time       `json:"ended_at"`
}

// Summarize builds the aggregator input for a session.
func (s *Session) Summarize() Summary {
	sum := Summary{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Difficulty: s.Difficulty,
		State:      s.State,
		Events:     s.Events(),
		EndedAt:    s.LastActivityAt,
	}
	if s.EndedAt != nil {
		sum.EndedAt = *s.EndedAt
	}
	return sum
}
