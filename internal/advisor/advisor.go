package advisor

import (
	"fmt"
	"sort"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

// Risk bands.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

// Training frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Thresholds drive every advisor decision.
type Thresholds struct {
	AccuracyHigh         float64 `yaml:"accuracy_high" json:"accuracy_high"`
	AccuracyLow          float64 `yaml:"accuracy_low" json:"accuracy_low"`
	SusceptibilityMedium float64 `yaml:"susceptibility_medium" json:"susceptibility_medium"`
	SusceptibilityHigh   float64 `yaml:"susceptibility_high" json:"susceptibility_high"`
	BandHigh             float64 `yaml:"band_high" json:"band_high"`
	BandMedium           float64 `yaml:"band_medium" json:"band_medium"`
	ClickHigh            float64 `yaml:"click_high" json:"click_high"`
	ClickMedium          float64 `yaml:"click_medium" json:"click_medium"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AccuracyHigh:         0.85,
		AccuracyLow:          0.50,
		SusceptibilityMedium: 0.6,
		SusceptibilityHigh:   0.8,
		BandHigh:             0.8,
		BandMedium:           0.6,
		ClickHigh:            0.6,
		ClickMedium:          0.3,
	}
}

// Validate checks that every threshold is a fraction and that each pair is
// ordered. Zero is a legal value.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"accuracy_high":         t.AccuracyHigh,
		"accuracy_low":          t.AccuracyLow,
		"susceptibility_medium": t.SusceptibilityMedium,
		"susceptibility_high":   t.SusceptibilityHigh,
		"band_high":             t.BandHigh,
		"band_medium":           t.BandMedium,
		"click_high":            t.ClickHigh,
		"click_medium":          t.ClickMedium,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("advisor.%s must be within [0,1], got %v", name, v)
		}
	}
	switch {
	case t.AccuracyLow > t.AccuracyHigh:
		return fmt.Errorf("advisor.accuracy_low must not exceed accuracy_high")
	case t.SusceptibilityMedium > t.SusceptibilityHigh:
		return fmt.Errorf("advisor.susceptibility_medium must not exceed susceptibility_high")
	case t.BandMedium > t.BandHigh:
		return fmt.Errorf("advisor.band_medium must not exceed band_high")
	case t.ClickMedium > t.ClickHigh:
		return fmt.Errorf("advisor.click_medium must not exceed click_high")
	}
	return nil
}

// Advisor turns a behavior profile into the next training step. It is pure.
type Advisor struct {
	th Thresholds
}

// New creates an advisor using th exactly as given. Start from
// DefaultThresholds and override the values to change.
func New(th Thresholds) *Advisor {
	return &Advisor{th: th}
}

// Thresholds returns the effective thresholds.
func (a *Advisor) Thresholds() Thresholds {
	return a.th
}

// Recommend computes the next difficulty and focus for a user.
func (a *Advisor) Recommend(p *model.BehaviorProfile, recentAccuracy float64) model.DifficultyRecommendation {
	current := clampDifficulty(p.CurrentDifficulty)
	maxSus := p.MaxSusceptibility()

	rec := model.DifficultyRecommendation{
		UserID:            p.UserID,
		CurrentDifficulty: current,
		NextDifficulty:    current,
		FocusTriggers:     []scenario.Trigger{},
		RecentAccuracy:    recentAccuracy,
	}

	switch {
	case recentAccuracy >= a.th.AccuracyHigh && maxSus < a.th.SusceptibilityMedium:
		rec.NextDifficulty = clampDifficulty(current + 1)
	case recentAccuracy <= a.th.AccuracyLow || maxSus >= a.th.SusceptibilityHigh:
		if recentAccuracy <= a.th.AccuracyLow {
			rec.NextDifficulty = clampDifficulty(current - 1)
		}
		rec.FocusTriggers = a.FocusTriggers(p)
	}

	rec.RiskBand = a.RiskBand(p)
	rec.RecommendedFrequency = Frequency(rec.RiskBand)
	return rec
}

// FocusTriggers lists triggers at or above the medium threshold, highest first
// with ties broken by name.
func (a *Advisor) FocusTriggers(p *model.BehaviorProfile) []scenario.Trigger {
	out := []scenario.Trigger{}
	for trig, v := range p.TriggerSusceptibility {
		if v >= a.th.SusceptibilityMedium {
			out = append(out, trig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := p.TriggerSusceptibility[out[i]], p.TriggerSusceptibility[out[j]]
		if vi != vj {
			return vi > vj
		}
		return out[i] < out[j]
	})
	return out
}

// RiskBand classifies a profile by its worst trigger and lifetime click rate.
func (a *Advisor) RiskBand(p *model.BehaviorProfile) string {
	maxSus := p.MaxSusceptibility()
	switch {
	case maxSus >= a.th.BandHigh || p.ClickRate >= a.th.ClickHigh:
		return RiskHigh
	case maxSus >= a.th.BandMedium || p.ClickRate >= a.th.ClickMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Frequency maps a risk band to a training cadence.
func Frequency(band string) string {
	switch band {
	case RiskHigh:
		return FrequencyDaily
	case RiskMedium:
		return FrequencyWeekly
	default:
		return FrequencyMonthly
	}
}

// RecentAccuracy is the mean of the profile's accuracy window, 0 when empty.
func RecentAccuracy(p *model.BehaviorProfile) float64 {
	if len(p.AccuracyHistory) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range p.AccuracyHistory {
		sum += v
	}
	return sum / float64(len(p.AccuracyHistory))
}

func clampDifficulty(d int) int {
	if d < scenario.MinDifficulty {
		return scenario.MinDifficulty
	}
	if d > scenario.MaxDifficulty {
		return scenario.MaxDifficulty
	}
	return d
}
