package scoring

import (
	"math"

	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

// Config holds the response-time bonus curve.
type Config struct {
	// MaxTimeBonus multiplies base points when the response is at or under the
	// expected time.
	MaxTimeBonus float64 `yaml:"max_time_bonus" json:"max_time_bonus"`
	// BonusDecayRatio is the multiple of expected time at which the bonus
	// reaches 1.0.
	BonusDecayRatio float64 `yaml:"bonus_decay_ratio" json:"bonus_decay_ratio"`
}

// DefaultConfig returns the standard bonus curve.
func DefaultConfig() Config {
	return Config{
		MaxTimeBonus:    1.5,
		BonusDecayRatio: 2.0,
	}
}

// Input describes one evaluated action.
type Input struct {
	Correct             bool
	BasePoints          int
	BasePenalty         int
	ResponseTimeSeconds float64
	ExpectedTimeSeconds float64
	Trigger             scenario.Trigger
	ActionType          string
}

// Event is the scored outcome of one action.
type Event struct {
	SessionID           string           `json:"session_id"`
	ActionSequence      int64            `json:"action_sequence"`
	PointsDelta         int              `json:"points_delta"`
	XPDelta             int              `json:"xp_delta"`
	Correct             bool             `json:"correct"`
	Trigger             scenario.Trigger `json:"trigger,omitempty"`
	ActionType          string           `json:"action_type"`
	ResponseTimeSeconds float64          `json:"response_time_seconds"`
	TimeFactor          float64          `json:"time_factor"`
}

// Scorer turns action inputs into score events. It does no I/O.
type Scorer struct {
	cfg Config
}

// New creates a scorer, filling unset config values with defaults.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.MaxTimeBonus < 1 {
		cfg.MaxTimeBonus = def.MaxTimeBonus
	}
	if cfg.BonusDecayRatio <= 1 {
		cfg.BonusDecayRatio = def.BonusDecayRatio
	}
	return &Scorer{cfg: cfg}
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the event for in. SessionID and ActionSequence are left for
// the caller to fill.
func (s *Scorer) Score(in Input) Event {
	ev := Event{
		Correct:             in.Correct,
		Trigger:             in.Trigger,
		ActionType:          in.ActionType,
		ResponseTimeSeconds: in.ResponseTimeSeconds,
		TimeFactor:          1.0,
	}

	if !in.Correct {
		penalty := in.BasePenalty
		if penalty < 0 {
			penalty = -penalty
		}
		ev.PointsDelta = -penalty
		ev.XPDelta = ev.PointsDelta
		return ev
	}

	ev.TimeFactor = s.TimeFactor(in.ResponseTimeSeconds, in.ExpectedTimeSeconds)
	ev.PointsDelta = int(math.Round(float64(in.BasePoints) * ev.TimeFactor))
	ev.XPDelta = ev.PointsDelta
	return ev
}

// TimeFactor is MaxTimeBonus at or under expected, falling linearly to 1.0 at
// expected*BonusDecayRatio and never below 1.0.
func (s *Scorer) TimeFactor(response, expected float64) float64 {
	if expected <= 0 {
		return 1.0
	}
	if response <= expected {
		return s.cfg.MaxTimeBonus
	}
	limit := expected * s.cfg.BonusDecayRatio
	if response >= limit {
		return 1.0
	}
	frac := (response - expected) / (limit - expected)
	return s.cfg.MaxTimeBonus - frac*(s.cfg.MaxTimeBonus-1.0)
}

// Total sums the points of a list of events.
func Total(events []Event) int {
	total := 0
	for _, ev := range events {
		total += ev.PointsDelta
	}
	return total
}
