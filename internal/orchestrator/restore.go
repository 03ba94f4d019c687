package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/scoring"
)

// ReplayReport is the outcome of re-running a session log.
type ReplayReport struct {
	SessionID  string   `json:"session_id"`
	Actions    int      `json:"actions"`
	Score      int      `json:"score"`
	Mismatches []string `json:"mismatches,omitempty"`
}

// OK returns true if the replay agrees with the stored session.
func (r *ReplayReport) OK() bool {
	return len(r.Mismatches) == 0
}

// Replay re-scores the logged actions of s against def from the entry point
// and compares the result with what was stored. It does not emit events or
// touch storage.
func Replay(scorer *scoring.Scorer, def *scenario.Definition, s *model.Session) (*ReplayReport, error) {
	if scorer == nil {
		scorer = scoring.New(scoring.DefaultConfig())
	}
	fresh := &model.Session{ID: s.ID, State: model.StateActive}
	if err := position(def, fresh); err != nil {
		return nil, err
	}

	report := &ReplayReport{SessionID: s.ID}
	mismatch := func(format string, args ...interface{}) {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf(format, args...))
	}

	var lastSeq int64
	for i, entry := range s.Log {
		if entry.Action.Sequence <= lastSeq {
			mismatch("entry %d: sequence %d not increasing", i, entry.Action.Sequence)
		}
		lastSeq = entry.Action.Sequence

		ev, _, err := evaluate(scorer, def, fresh, entry.Action)
		if err != nil {
			return nil, fmt.Errorf("replay entry %d: %w", i, err)
		}
		fresh.Score += ev.PointsDelta
		fresh.XP += ev.XPDelta
		report.Actions++

		if ev.PointsDelta != entry.Event.PointsDelta || ev.Correct != entry.Event.Correct {
			mismatch("entry %d: recorded %+d/%v, replayed %+d/%v",
				i, entry.Event.PointsDelta, entry.Event.Correct, ev.PointsDelta, ev.Correct)
		}
	}
	report.Score = fresh.Score

	if total := scoring.Total(s.Events()); total != s.Score {
		mismatch("stored score %d != sum of logged points %d", s.Score, total)
	}
	if fresh.Score != s.Score {
		mismatch("replayed score %d != stored %d", fresh.Score, s.Score)
	}
	if fresh.XP != s.XP {
		mismatch("replayed xp %d != stored %d", fresh.XP, s.XP)
	}
	if fresh.CurrentNode != s.CurrentNode || fresh.CurrentStepIndex != s.CurrentStepIndex {
		mismatch("replayed position %s/%d != stored %s/%d",
			fresh.CurrentNode, fresh.CurrentStepIndex, s.CurrentNode, s.CurrentStepIndex)
	}
	if fresh.CorrectCount != s.CorrectCount || fresh.IncorrectCount != s.IncorrectCount {
		mismatch("replayed counters %d/%d != stored %d/%d",
			fresh.CorrectCount, fresh.IncorrectCount, s.CorrectCount, s.IncorrectCount)
	}
	if s.State == model.StateCompleted && !atTerminal(def, fresh) {
		mismatch("stored as completed but replay ends at %s", fresh.CurrentNode)
	}
	if s.State == model.StateActive && atTerminal(def, fresh) {
		mismatch("stored as active but replay reaches the end")
	}

	return report, nil
}

// Err returns nil for a clean report, otherwise one error listing every mismatch.
func (r *ReplayReport) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("session %s replay mismatch: %s", r.SessionID, strings.Join(r.Mismatches, "; "))
}

// ReplaySession loads a stored session and its scenario through the engine's
// repositories and replays it. The loaded session is returned with the report.
func (e *Engine) ReplaySession(ctx context.Context, sessionID string) (*model.Session, *ReplayReport, error) {
	s, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	def, err := e.scenarios.GetScenario(ctx, s.ScenarioID)
	if err != nil {
		return s, nil, fmt.Errorf("failed to load scenario: %w", err)
	}
	report, err := Replay(e.scorer, def, s)
	return s, report, err
}
