package model

import (
	"time"

	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

// BehaviorProfile is a user's long-lived behavioral record.
type BehaviorProfile struct {
	UserID                string                       `json:"user_id"`
	TriggerSusceptibility map[scenario.Trigger]float64 `json:"trigger_susceptibility"`
	ClickRate             float64                      `json:"click_rate"`
	ReportRate            float64                      `json:"report_rate"`
	AvgResponseTime       float64                      `json:"avg_response_time"`
	ImprovementRate       float64                      `json:"improvement_rate"`
	LastUpdated           time.Time                    `json:"last_updated"`

	MaliciousExposures int       `json:"malicious_exposures"`
	MaliciousClicks    int       `json:"malicious_clicks"`
	CorrectReports     int       `json:"correct_reports"`
	ActionsObserved    int       `json:"actions_observed"`
	AccuracyHistory    []float64 `json:"accuracy_history"`
	SessionsFolded     int       `json:"sessions_folded"`
	TotalXP            int       `json:"total_xp"`
	CurrentDifficulty  int       `json:"current_difficulty"`
	RecentSessions     []string  `json:"recent_sessions"`
	Version            int64     `json:"version"`
}

// NewBehaviorProfile returns the default profile for a user never seen before.
func NewBehaviorProfile(userID string) *BehaviorProfile {
	return &BehaviorProfile{
		UserID:                userID,
		TriggerSusceptibility: make(map[scenario.Trigger]float64),
		CurrentDifficulty:     scenario.MinDifficulty,
	}
}

// Clone returns a deep copy safe to mutate.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	c := *p
	c.TriggerSusceptibility = make(map[scenario.Trigger]float64, len(p.TriggerSusceptibility))
	for k, v := range p.TriggerSusceptibility {
		c.TriggerSusceptibility[k] = v
	}
	c.AccuracyHistory = append([]float64(nil), p.AccuracyHistory...)
	c.RecentSessions = append([]string(nil), p.RecentSessions...)
	return &c
}

// HasFolded reports whether the session was already applied to the profile.
func (p *BehaviorProfile) HasFolded(sessionID string) bool {
	for _, id := range p.RecentSessions {
		if id == sessionID {
			return true
		}
	}
	return false
}

// MaxSusceptibility returns the highest trigger score, or 0 when none are tracked.
func (p *BehaviorProfile) MaxSusceptibility() float64 {
	max := 0.0
	for _, v := range p.TriggerSusceptibility {
		if v > max {
			max = v
		}
	}
	return max
}

// DifficultyRecommendation is the advisor's output. It is never stored.
type DifficultyRecommendation struct {
	UserID               string             `json:"user_id"`
	CurrentDifficulty    int                `json:"current_difficulty"`
	NextDifficulty       int                `json:"next_difficulty"`
	FocusTriggers        []scenario.Trigger `json:"focus_triggers"`
	RecommendedFrequency string             `json:"recommended_frequency"`
	RiskBand             string             `json:"risk_band"`
	RecentAccuracy       float64            `json:"recent_accuracy"`
}
