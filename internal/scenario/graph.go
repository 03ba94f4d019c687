package scenario

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Kind selects how a scenario is traversed.
type Kind string

const (
	KindGraph        Kind = "graph"
	KindOrderedSteps Kind = "ordered-steps"
)

// Difficulty bounds shared by definitions and the advisor.
const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// Trigger is a psychological manipulation tactic attached to an edge or step.
type Trigger string

const (
	TriggerUrgency   Trigger = "urgency"
	TriggerAuthority Trigger = "authority"
	TriggerCuriosity Trigger = "curiosity"
	TriggerFear      Trigger = "fear"
	TriggerTrust     Trigger = "trust"
	TriggerGreed     Trigger = "greed"
)

// KnownTriggers lists the triggers every behavior profile tracks from the start.
var KnownTriggers = []Trigger{
	TriggerUrgency,
	TriggerAuthority,
	TriggerCuriosity,
	TriggerFear,
	TriggerTrust,
}

// NodeType classifies a graph node.
// Allowed types: content, decision, outcome
type NodeType string

const (
	NodeContent  NodeType = "content"
	NodeDecision NodeType = "decision"
	NodeOutcome  NodeType = "outcome"
)

// Definition is an immutable description of a trainable scenario.
// Graph scenarios use Nodes; ordered-step scenarios use Steps.
type Definition struct {
	ID                  string  `json:"id" yaml:"id"`
	Title               string  `json:"title,omitempty" yaml:"title,omitempty"`
	ScenarioType        string  `json:"scenario_type,omitempty" yaml:"scenario_type,omitempty"`
	Kind                Kind    `json:"kind" yaml:"kind"`
	Difficulty          int     `json:"difficulty" yaml:"difficulty"`
	Entry               string  `json:"entry,omitempty" yaml:"entry,omitempty"`
	ExpectedTimeSeconds float64 `json:"expected_time_seconds,omitempty" yaml:"expected_time_seconds,omitempty"`
	Nodes               []Node  `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Steps               []Step  `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Content is the text shown to the trainee for a node.
type Content struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Body  string `json:"body,omitempty" yaml:"body,omitempty"`
}

// Position is editor-only canvas metadata. The engine never reads it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a point in a graph scenario.
type Node struct {
	ID                  string                 `json:"id" yaml:"id"`
	Type                NodeType               `json:"type" yaml:"type"`
	Entry               bool                   `json:"entry,omitempty" yaml:"entry,omitempty"`
	Content             Content                `json:"content" yaml:"content"`
	Edges               []Edge                 `json:"edges,omitempty" yaml:"edges,omitempty"`
	SuccessPoints       int                    `json:"success_points,omitempty" yaml:"success_points,omitempty"`
	FailurePoints       int                    `json:"failure_points,omitempty" yaml:"failure_points,omitempty"`
	ExpectedTimeSeconds float64                `json:"expected_time_seconds,omitempty" yaml:"expected_time_seconds,omitempty"`
	Position            *Position              `json:"position,omitempty" yaml:"position,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Edge is a choice leaving a node. Its ID is the action target that selects it.
type Edge struct {
	ID       string  `json:"id" yaml:"id"`
	Label    string  `json:"label,omitempty" yaml:"label,omitempty"`
	Target   string  `json:"target" yaml:"target"`
	Trigger  Trigger `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Safe     bool    `json:"safe" yaml:"safe"`
	Points   *int    `json:"points,omitempty" yaml:"points,omitempty"`
	Penalty  *int    `json:"penalty,omitempty" yaml:"penalty,omitempty"`
	Feedback string  `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// Step is one expected action of an ordered-step scenario.
type Step struct {
	ID                  string  `json:"id" yaml:"id"`
	Title               string  `json:"title,omitempty" yaml:"title,omitempty"`
	Description         string  `json:"description,omitempty" yaml:"description,omitempty"`
	ExpectedAction      string  `json:"expected_action" yaml:"expected_action"`
	SuccessPoints       int     `json:"success_points" yaml:"success_points"`
	FailurePenalty      int     `json:"failure_penalty" yaml:"failure_penalty"`
	Position            int     `json:"position" yaml:"position"`
	Trigger             Trigger `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	ExpectedTimeSeconds float64 `json:"expected_time_seconds,omitempty" yaml:"expected_time_seconds,omitempty"`
}

// EntryPoint returns the single entry of the definition, or "" when it is
// missing or ambiguous. Callers that need the reason use Validate.
func (d *Definition) EntryPoint() string {
	if d.Kind == KindOrderedSteps {
		if s := d.StepAt(0); s != nil {
			return s.ID
		}
		return ""
	}
	ids := d.entryCandidates()
	if len(ids) != 1 {
		return ""
	}
	return ids[0]
}

func (d *Definition) entryCandidates() []string {
	var ids []string
	seen := make(map[string]bool)
	if d.Entry != "" {
		ids = append(ids, d.Entry)
		seen[d.Entry] = true
	}
	for _, n := range d.Nodes {
		if n.Entry && !seen[n.ID] {
			ids = append(ids, n.ID)
			seen[n.ID] = true
		}
	}
	return ids
}

// FindNode returns the node with the given ID, or nil.
func (d *Definition) FindNode(nodeID string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == nodeID {
			return &d.Nodes[i]
		}
	}
	return nil
}

// FindEdge returns the outgoing edge of the node with the given ID, or nil.
func (n *Node) FindEdge(edgeID string) *Edge {
	for i := range n.Edges {
		if n.Edges[i].ID == edgeID {
			return &n.Edges[i]
		}
	}
	return nil
}

// IsTerminal reports whether the node ends the walk.
func (n *Node) IsTerminal() bool {
	return len(n.Edges) == 0
}

// CorrectChoice reports whether taking e counts as a correct action. Safe
// edges are correct, and so is plain navigation: an edge without a trigger
// leaving a content node.
func (n *Node) CorrectChoice(e *Edge) bool {
	if e == nil {
		return false
	}
	return e.Safe || (n.Type == NodeContent && e.Trigger == "")
}

// SuccessPointsFor resolves the points awarded for taking the edge.
func (n *Node) SuccessPointsFor(e *Edge) int {
	if e != nil && e.Points != nil {
		return *e.Points
	}
	return n.SuccessPoints
}

// PenaltyFor resolves the penalty applied for taking the edge.
func (n *Node) PenaltyFor(e *Edge) int {
	if e != nil && e.Penalty != nil {
		return *e.Penalty
	}
	return n.FailurePoints
}

// ExpectedTimeFor returns the node's expected response time, falling back to
// the scenario default.
func (d *Definition) ExpectedTimeFor(n *Node) float64 {
	if n != nil && n.ExpectedTimeSeconds > 0 {
		return n.ExpectedTimeSeconds
	}
	return d.ExpectedTimeSeconds
}

// StepExpectedTime returns the step's expected response time, falling back to
// the scenario default.
func (d *Definition) StepExpectedTime(s *Step) float64 {
	if s != nil && s.ExpectedTimeSeconds > 0 {
		return s.ExpectedTimeSeconds
	}
	return d.ExpectedTimeSeconds
}

// StepAt returns the step whose position is i, or nil past the end.
func (d *Definition) StepAt(i int) *Step {
	for j := range d.Steps {
		if d.Steps[j].Position == i {
			return &d.Steps[j]
		}
	}
	return nil
}

// SortSteps orders steps by position, keeping declaration order for ties.
func (d *Definition) SortSteps() {
	sort.SliceStable(d.Steps, func(i, j int) bool {
		return d.Steps[i].Position < d.Steps[j].Position
	})
}

// SameContent reports whether a and b encode to the same document. Stores use
// it to accept a repeated put of an unchanged definition.
func SameContent(a, b *Definition) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
