package advisor

import (
	"sort"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

// Insights is a human-oriented summary of a profile.
type Insights struct {
	UserID                   string           `json:"user_id"`
	PrimaryVulnerability     scenario.Trigger `json:"primary_vulnerability,omitempty"`
	VulnerabilityScore       float64          `json:"vulnerability_score"`
	ImprovementTrend         string           `json:"improvement_trend"`
	ResponseSpeed            string           `json:"response_speed"`
	RiskBand                 string           `json:"risk_band"`
	RecommendedScenarioTypes []string         `json:"recommended_scenario_types"`
	EstimatedImprovementTime string           `json:"estimated_improvement_time"`
}

const (
	trendMargin       = 0.1
	fastResponse      = 15.0
	mediumResponse    = 45.0
	scenarioTypeFloor = 0.5
)

var scenarioTypeByTrigger = []struct {
	trigger scenario.Trigger
	name    string
}{
	{scenario.TriggerUrgency, "urgent_requests"},
	{scenario.TriggerAuthority, "executive_impersonation"},
	{scenario.TriggerCuriosity, "interesting_links"},
	{scenario.TriggerTrust, "trusted_sender_spoofing"},
	{scenario.TriggerFear, "fear_based_alerts"},
}

// Insights derives the profile summary shown to trainees and admins.
func (a *Advisor) Insights(p *model.BehaviorProfile) Insights {
	in := Insights{
		UserID:   p.UserID,
		RiskBand: a.RiskBand(p),
	}

	triggers := make([]scenario.Trigger, 0, len(p.TriggerSusceptibility))
	for trig := range p.TriggerSusceptibility {
		triggers = append(triggers, trig)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	for _, trig := range triggers {
		if v := p.TriggerSusceptibility[trig]; in.PrimaryVulnerability == "" || v > in.VulnerabilityScore {
			in.PrimaryVulnerability = trig
			in.VulnerabilityScore = v
		}
	}

	switch {
	case p.ImprovementRate > trendMargin:
		in.ImprovementTrend = "improving"
	case p.ImprovementRate < -trendMargin:
		in.ImprovementTrend = "declining"
	default:
		in.ImprovementTrend = "stable"
	}

	switch {
	case p.AvgResponseTime < fastResponse:
		in.ResponseSpeed = "fast"
	case p.AvgResponseTime < mediumResponse:
		in.ResponseSpeed = "medium"
	default:
		in.ResponseSpeed = "slow"
	}

	for _, st := range scenarioTypeByTrigger {
		if p.TriggerSusceptibility[st.trigger] > scenarioTypeFloor {
			in.RecommendedScenarioTypes = append(in.RecommendedScenarioTypes, st.name)
		}
	}
	if len(in.RecommendedScenarioTypes) == 0 {
		in.RecommendedScenarioTypes = []string{"general_phishing"}
	}

	switch {
	case p.ImprovementRate > 0.2:
		in.EstimatedImprovementTime = "2-4 weeks"
	case p.ImprovementRate > 0:
		in.EstimatedImprovementTime = "1-2 months"
	default:
		in.EstimatedImprovementTime = "2-3 months"
	}

	return in
}
