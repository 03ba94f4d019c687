package scenario

import (
	"fmt"
	"sort"
)

// Scenario types served by the static template library.
const (
	TypePhishing   = "phishing"
	TypeRansomware = "ransomware"
)

func intPtr(v int) *int { return &v }

// ransomwareDrills are the incident-response step lists keyed by ransomware variant.
var ransomwareDrills = map[string][]Step{
	"crypto_locker": {
		{ID: "crypto_locker.1", Title: "Disconnect Network", ExpectedAction: "disconnect_network", Description: "Immediately disconnect from network to prevent spread", SuccessPoints: 20, FailurePenalty: 10},
		{ID: "crypto_locker.2", Title: "Document Evidence", ExpectedAction: "take_screenshot", Description: "Take screenshots of ransom message for investigation", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "crypto_locker.3", Title: "Identify Processes", ExpectedAction: "open_task_manager", Description: "Open Task Manager to identify malicious processes", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "crypto_locker.4", Title: "Kill Malicious Process", ExpectedAction: "end_process", Description: "Terminate suspicious encryption processes", SuccessPoints: 15, FailurePenalty: 10},
		{ID: "crypto_locker.5", Title: "Boot Safe Mode", ExpectedAction: "safe_mode", Description: "Restart in Safe Mode to prevent further encryption", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "crypto_locker.6", Title: "Run Antivirus", ExpectedAction: "run_antivirus", Description: "Perform full system scan with updated antivirus", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "crypto_locker.7", Title: "Restore from Backup", ExpectedAction: "restore_backup", Description: "Restore encrypted files from clean backup", SuccessPoints: 15, FailurePenalty: 10},
		{ID: "crypto_locker.8", Title: "Report Incident", ExpectedAction: "report_incident", Description: "Report to IT security team and authorities", SuccessPoints: 10, FailurePenalty: 5},
	},
	"file_encrypt": {
		{ID: "file_encrypt.1", Title: "Isolate System", ExpectedAction: "disconnect_network", Description: "Disconnect network cable/WiFi immediately", SuccessPoints: 20, FailurePenalty: 10},
		{ID: "file_encrypt.2", Title: "Stop Encryption", ExpectedAction: "shutdown_system", Description: "Force shutdown to stop ongoing encryption", SuccessPoints: 15, FailurePenalty: 10},
		{ID: "file_encrypt.3", Title: "Boot from USB", ExpectedAction: "boot_usb", Description: "Boot from antivirus rescue USB/CD", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "file_encrypt.4", Title: "Scan for Malware", ExpectedAction: "offline_scan", Description: "Run offline antivirus scan", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "file_encrypt.5", Title: "Remove Ransomware", ExpectedAction: "remove_malware", Description: "Delete identified ransomware files", SuccessPoints: 15, FailurePenalty: 5},
		{ID: "file_encrypt.6", Title: "Check File Integrity", ExpectedAction: "check_files", Description: "Verify which files are encrypted", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "file_encrypt.7", Title: "Restore Data", ExpectedAction: "restore_backup", Description: "Restore from offline backup", SuccessPoints: 10, FailurePenalty: 5},
		{ID: "file_encrypt.8", Title: "Update Security", ExpectedAction: "update_security", Description: "Update OS and security software", SuccessPoints: 10, FailurePenalty: 5},
	},
}

// phishingLure describes the single email used by a phishing template band.
type phishingLure struct {
	band    string
	subject string
	sender  string
	body    string
	trigger Trigger
}

var phishingLures = []phishingLure{
	{
		band:    "beginner",
		subject: "Urgent: Verify Your Account",
		sender:  "security@bank-alert.com",
		body:    "Your account has been compromised. Click here to verify: http://fake-bank.com/verify",
		trigger: TriggerUrgency,
	},
	{
		band:    "intermediate",
		subject: "IT Security Update Required",
		sender:  "it-support@company.com",
		body:    "Please update your security settings by clicking: http://company-update.net/login",
		trigger: TriggerAuthority,
	},
	{
		band:    "advanced",
		subject: "Invoice #INV-2024-001",
		sender:  "billing@trusted-vendor.com",
		body:    "Please review the attached invoice. Download: http://invoice-portal.biz/download",
		trigger: TriggerTrust,
	},
}

// difficultyBand maps the 1..5 difficulty scale onto the three content bands.
func difficultyBand(difficulty int) int {
	switch {
	case difficulty <= 2:
		return 0
	case difficulty <= 3:
		return 1
	default:
		return 2
	}
}

// RansomwareTemplate returns a fresh ordered-step drill for the variant,
// defaulting to crypto_locker.
func RansomwareTemplate(variant string, difficulty int) *Definition {
	steps, ok := ransomwareDrills[variant]
	if !ok {
		variant = "crypto_locker"
		steps = ransomwareDrills[variant]
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	for i := range out {
		out[i].Position = i
	}
	return &Definition{
		ID:                  fmt.Sprintf("template.ransomware.%s.d%d", variant, clampDifficulty(difficulty)),
		Title:               "Ransomware response: " + variant,
		ScenarioType:        TypeRansomware,
		Kind:                KindOrderedSteps,
		Difficulty:          clampDifficulty(difficulty),
		ExpectedTimeSeconds: 30,
		Steps:               out,
	}
}

// PhishingTemplate returns a fresh inbox decision graph for the difficulty.
// When focus triggers are given, the first one is used as the lure's trigger.
func PhishingTemplate(difficulty int, focus []Trigger) *Definition {
	d := clampDifficulty(difficulty)
	lure := phishingLures[difficultyBand(d)]
	trigger := lure.trigger
	if len(focus) > 0 && focus[0] != "" {
		trigger = focus[0]
	}

	return &Definition{
		ID:                  fmt.Sprintf("template.phishing.%s.%s.d%d", lure.band, trigger, d),
		Title:               lure.subject,
		ScenarioType:        TypePhishing,
		Kind:                KindGraph,
		Difficulty:          d,
		Entry:               "inbox",
		ExpectedTimeSeconds: 20,
		Nodes: []Node{
			{
				ID:   "inbox",
				Type: NodeContent,
				Content: Content{
					Title: lure.subject,
					Body:  "From: " + lure.sender,
				},
				Edges: []Edge{
					{ID: "open_email", Label: "Open the email", Target: "decide", Safe: true, Points: intPtr(0), Penalty: intPtr(0)},
				},
			},
			{
				ID:            "decide",
				Type:          NodeDecision,
				Content:       Content{Title: "What do you do?", Body: lure.body},
				SuccessPoints: 10 * d,
				FailurePoints: 5 * d,
				Edges: []Edge{
					{ID: "click_link", Label: "Click the link", Target: "compromised", Trigger: trigger, Safe: false, Feedback: "That link harvested your credentials."},
					{ID: "report", Label: "Report as phishing", Target: "reported", Trigger: trigger, Safe: true, Feedback: "Reported. The security team has been alerted."},
					{ID: "delete", Label: "Delete email", Target: "deleted", Trigger: trigger, Safe: true, Points: intPtr(5 * d), Feedback: "Deleted, but reporting helps protect colleagues."},
				},
			},
			{ID: "compromised", Type: NodeOutcome, Content: Content{Title: "Account compromised"}},
			{ID: "reported", Type: NodeOutcome, Content: Content{Title: "Threat reported"}},
			{ID: "deleted", Type: NodeOutcome, Content: Content{Title: "Email deleted"}},
		},
	}
}

// Template returns the static definition for a scenario type. Unknown types
// fall back to the phishing inbox.
func Template(scenarioType string, difficulty int, focus []Trigger) *Definition {
	switch scenarioType {
	case TypeRansomware:
		variant := "crypto_locker"
		if difficulty >= 4 {
			variant = "file_encrypt"
		}
		return RansomwareTemplate(variant, difficulty)
	default:
		return PhishingTemplate(difficulty, focus)
	}
}

// Library returns every template at every difficulty: each ransomware variant
// and the phishing inbox without focus triggers.
func Library() []*Definition {
	variants := make([]string, 0, len(ransomwareDrills))
	for v := range ransomwareDrills {
		variants = append(variants, v)
	}
	sort.Strings(variants)

	var out []*Definition
	for d := MinDifficulty; d <= MaxDifficulty; d++ {
		for _, v := range variants {
			out = append(out, RansomwareTemplate(v, d))
		}
		out = append(out, PhishingTemplate(d, nil))
	}
	return out
}

func clampDifficulty(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}
