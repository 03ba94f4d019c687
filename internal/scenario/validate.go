package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind names a structural problem found by Validate.
type ErrorKind string

const (
	OrphanNode          ErrorKind = "OrphanNode"
	DanglingEdge        ErrorKind = "DanglingEdge"
	MultipleEntryPoints ErrorKind = "MultipleEntryPoints"
	CycleDetected       ErrorKind = "CycleDetected"
	DeadEnd             ErrorKind = "DeadEnd"
	MissingEntryPoint   ErrorKind = "MissingEntryPoint"
	DuplicateID         ErrorKind = "DuplicateID"
	EmptyScenario       ErrorKind = "EmptyScenario"
	InvalidDifficulty   ErrorKind = "InvalidDifficulty"
	InvalidStepOrder    ErrorKind = "InvalidStepOrder"
	UnknownKind         ErrorKind = "UnknownKind"
)

// ErrInvalidDefinition is wrapped by every error built from a failed ValidationResult.
var ErrInvalidDefinition = errors.New("invalid scenario definition")

// ValidationError is one typed finding.
type ValidationError struct {
	Kind    ErrorKind `json:"kind"`
	NodeID  string    `json:"node_id,omitempty"`
	Ref     string    `json:"ref,omitempty"`
	Message string    `json:"message"`
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ValidationResult collects all findings for a definition.
type ValidationResult struct {
	ScenarioID string            `json:"scenario_id"`
	Errors     []ValidationError `json:"errors"`
}

// OK returns true if no findings were recorded.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Has returns true if at least one finding of the given kind was recorded.
func (r ValidationResult) Has(kind ErrorKind) bool {
	for _, e := range r.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Err returns nil for a clean result, otherwise an error wrapping
// ErrInvalidDefinition that lists every finding.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.String())
	}
	return fmt.Errorf("%w %s: %s", ErrInvalidDefinition, r.ScenarioID, strings.Join(parts, "; "))
}

func (r *ValidationResult) add(kind ErrorKind, nodeID, ref, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{
		Kind:    kind,
		NodeID:  nodeID,
		Ref:     ref,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks a definition for structural soundness. It never mutates def.
func Validate(def *Definition) ValidationResult {
	res := ValidationResult{}
	if def == nil {
		res.add(EmptyScenario, "", "", "definition is nil")
		return res
	}
	res.ScenarioID = def.ID

	if def.Difficulty < MinDifficulty || def.Difficulty > MaxDifficulty {
		res.add(InvalidDifficulty, "", "", "difficulty %d outside %d..%d", def.Difficulty, MinDifficulty, MaxDifficulty)
	}

	switch def.Kind {
	case KindGraph:
		validateGraph(def, &res)
	case KindOrderedSteps:
		validateSteps(def, &res)
	default:
		res.add(UnknownKind, "", string(def.Kind), "unknown scenario kind %q", def.Kind)
	}
	return res
}

func validateGraph(def *Definition, res *ValidationResult) {
	if len(def.Nodes) == 0 {
		res.add(EmptyScenario, "", "", "graph scenario has no nodes")
		return
	}

	nodes := make(map[string]*Node, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if _, dup := nodes[n.ID]; dup {
			res.add(DuplicateID, n.ID, "", "node id %s declared more than once", n.ID)
			continue
		}
		nodes[n.ID] = n
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		edgeIDs := make(map[string]bool, len(n.Edges))
		for _, e := range n.Edges {
			if edgeIDs[e.ID] {
				res.add(DuplicateID, n.ID, e.ID, "edge id %s repeated on node %s", e.ID, n.ID)
			}
			edgeIDs[e.ID] = true
			if _, ok := nodes[e.Target]; !ok {
				res.add(DanglingEdge, n.ID, e.Target, "edge %s from %s targets unknown node %s", e.ID, n.ID, e.Target)
			}
		}
		if len(n.Edges) == 0 && n.Type != NodeOutcome {
			res.add(DeadEnd, n.ID, "", "%s node %s has no exit", n.Type, n.ID)
		}
	}

	entries := def.entryCandidates()
	var entry string
	switch {
	case len(entries) == 0:
		res.add(MissingEntryPoint, "", "", "no entry point declared")
	case len(entries) > 1:
		sort.Strings(entries)
		res.add(MultipleEntryPoints, "", strings.Join(entries, ","), "entry points %s", strings.Join(entries, ", "))
	default:
		entry = entries[0]
		if _, ok := nodes[entry]; !ok {
			res.add(DanglingEdge, "", entry, "entry point %s is not a node", entry)
			entry = ""
		}
	}

	if entry != "" {
		reachable := reachableFrom(entry, nodes)
		for i := range def.Nodes {
			id := def.Nodes[i].ID
			if !reachable[id] {
				res.add(OrphanNode, id, "", "node %s is unreachable from entry %s", id, entry)
			}
		}
	}

	if cycleAt := findCycle(def.Nodes, nodes); cycleAt != "" {
		res.add(CycleDetected, cycleAt, "", "cycle through node %s", cycleAt)
	}
}

// reachableFrom walks edges breadth-first from start.
func reachableFrom(start string, nodes map[string]*Node) map[string]bool {
	visited := make(map[string]bool)
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		n, ok := nodes[current]
		if !ok {
			continue
		}
		for _, e := range n.Edges {
			if !visited[e.Target] {
				queue = append(queue, e.Target)
			}
		}
	}
	return visited
}

// findCycle runs a three-color DFS over every node and returns the first node
// found on a back edge, or "".
func findCycle(order []Node, nodes map[string]*Node) string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, e := range nodes[id].Edges {
			if _, ok := nodes[e.Target]; !ok {
				continue
			}
			switch color[e.Target] {
			case grey:
				return e.Target
			case white:
				if at := visit(e.Target); at != "" {
					return at
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, n := range order {
		if color[n.ID] == white {
			if at := visit(n.ID); at != "" {
				return at
			}
		}
	}
	return ""
}

func validateSteps(def *Definition, res *ValidationResult) {
	if len(def.Steps) == 0 {
		res.add(EmptyScenario, "", "", "ordered-steps scenario has no steps")
		return
	}

	ids := make(map[string]bool, len(def.Steps))
	positions := make(map[int]string, len(def.Steps))
	for _, s := range def.Steps {
		if ids[s.ID] {
			res.add(DuplicateID, s.ID, "", "step id %s declared more than once", s.ID)
		}
		ids[s.ID] = true

		if strings.TrimSpace(s.ExpectedAction) == "" {
			res.add(DeadEnd, s.ID, "", "step %s has no expected action", s.ID)
		}

		if s.Position < 0 || s.Position >= len(def.Steps) {
			res.add(InvalidStepOrder, s.ID, "", "step %s position %d outside 0..%d", s.ID, s.Position, len(def.Steps)-1)
			continue
		}
		if other, taken := positions[s.Position]; taken {
			res.add(InvalidStepOrder, s.ID, other, "steps %s and %s share position %d", other, s.ID, s.Position)
			continue
		}
		positions[s.Position] = s.ID
	}

	if def.Entry != "" {
		if !ids[def.Entry] {
			res.add(DanglingEdge, "", def.Entry, "entry point %s is not a step", def.Entry)
		} else if first, ok := positions[0]; ok && first != def.Entry {
			res.add(MultipleEntryPoints, "", def.Entry+","+first, "entry %s is not the first step %s", def.Entry, first)
		}
	}
}
