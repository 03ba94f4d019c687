package profile

import (
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

// ActionReport is the action type counted as a correct report.
const ActionReport = "report"

// Config tunes the aggregator.
type Config struct {
	// Alpha is the smoothing factor applied to each session's trigger rate.
	Alpha float64 `yaml:"alpha" json:"alpha"`
	// DefaultSusceptibility seeds a trigger the user has never been exposed to.
	DefaultSusceptibility float64 `yaml:"default_susceptibility" json:"default_susceptibility"`
	// ImprovementWindow is how many prior sessions the latest accuracy is
	// compared against.
	ImprovementWindow int `yaml:"improvement_window" json:"improvement_window"`
	// HistoryLimit bounds accuracy_history.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
	// RecentSessionsLimit bounds the folded-session dedup list.
	RecentSessionsLimit int `yaml:"recent_sessions_limit" json:"recent_sessions_limit"`
}

func DefaultConfig() Config {
	return Config{
		Alpha:                 0.3,
		DefaultSusceptibility: 0.5,
		ImprovementWindow:     5,
		HistoryLimit:          20,
		RecentSessionsLimit:   50,
	}
}

// Aggregator folds terminal sessions into behavior profiles. It is pure.
type Aggregator struct {
	cfg Config
}

func NewAggregator(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.DefaultSusceptibility <= 0 || cfg.DefaultSusceptibility > 1 {
		cfg.DefaultSusceptibility = def.DefaultSusceptibility
	}
	if cfg.ImprovementWindow <= 0 {
		cfg.ImprovementWindow = def.ImprovementWindow
	}
	if cfg.HistoryLimit < cfg.ImprovementWindow+1 {
		cfg.HistoryLimit = max(def.HistoryLimit, cfg.ImprovementWindow+1)
	}
	if cfg.RecentSessionsLimit <= 0 {
		cfg.RecentSessionsLimit = def.RecentSessionsLimit
	}
	return &Aggregator{cfg: cfg}
}

type triggerTally struct {
	exposures int
	clicks    int
}

// UpdateProfile returns p with the session folded in. p is not modified and
// its Version is carried over unchanged.
func (a *Aggregator) UpdateProfile(p *model.BehaviorProfile, sum model.Summary) *model.BehaviorProfile {
	out := p.Clone()
	if out.TriggerSusceptibility == nil {
		out.TriggerSusceptibility = make(map[scenario.Trigger]float64)
	}

	tallies := make(map[scenario.Trigger]*triggerTally)
	var order []scenario.Trigger
	correct, reports, xp := 0, 0, 0
	var responseTotal float64

	for _, ev := range sum.Events {
		responseTotal += ev.ResponseTimeSeconds
		xp += ev.XPDelta
		if ev.Correct {
			correct++
		}
		if ev.Trigger == "" {
			continue
		}
		t, ok := tallies[ev.Trigger]
		if !ok {
			t = &triggerTally{}
			tallies[ev.Trigger] = t
			order = append(order, ev.Trigger)
		}
		t.exposures++
		if !ev.Correct {
			t.clicks++
		}
		if ev.Correct && ev.ActionType == ActionReport {
			reports++
		}
	}

	for _, trig := range order {
		t := tallies[trig]
		old, seen := out.TriggerSusceptibility[trig]
		if !seen {
			old = a.cfg.DefaultSusceptibility
		}
		rate := float64(t.clicks) / float64(t.exposures)
		out.TriggerSusceptibility[trig] = clamp01(a.cfg.Alpha*rate + (1-a.cfg.Alpha)*old)

		out.MaliciousExposures += t.exposures
		out.MaliciousClicks += t.clicks
	}
	out.CorrectReports += reports

	if out.MaliciousExposures > 0 {
		out.ClickRate = float64(out.MaliciousClicks) / float64(out.MaliciousExposures)
		out.ReportRate = float64(out.CorrectReports) / float64(out.MaliciousExposures)
	} else {
		out.ClickRate = 0
		out.ReportRate = 0
	}

	if n := len(sum.Events); n > 0 {
		total := out.AvgResponseTime*float64(out.ActionsObserved) + responseTotal
		out.ActionsObserved += n
		out.AvgResponseTime = total / float64(out.ActionsObserved)

		accuracy := float64(correct) / float64(n)
		prior := out.AccuracyHistory
		if len(prior) > a.cfg.ImprovementWindow {
			prior = prior[len(prior)-a.cfg.ImprovementWindow:]
		}
		if len(prior) > 0 {
			out.ImprovementRate = accuracy - mean(prior)
		} else {
			out.ImprovementRate = 0
		}
		out.AccuracyHistory = appendBounded(out.AccuracyHistory, accuracy, a.cfg.HistoryLimit)
	}

	out.TotalXP += xp
	if sum.Difficulty >= scenario.MinDifficulty {
		out.CurrentDifficulty = sum.Difficulty
	}
	out.SessionsFolded++
	out.RecentSessions = appendBoundedString(out.RecentSessions, sum.SessionID, a.cfg.RecentSessionsLimit)
	if !sum.EndedAt.IsZero() {
		out.LastUpdated = sum.EndedAt
	}

	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func appendBounded(xs []float64, v float64, limit int) []float64 {
	xs = append(xs, v)
	if len(xs) > limit {
		xs = append([]float64(nil), xs[len(xs)-limit:]...)
	}
	return xs
}

func appendBoundedString(xs []string, v string, limit int) []string {
	xs = append(xs, v)
	if len(xs) > limit {
		xs = append([]string(nil), xs[len(xs)-limit:]...)
	}
	return xs
}
