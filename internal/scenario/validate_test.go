package scenario

import (
	"errors"
	"reflect"
	"testing"
)

func phishingGraph() *Definition {
	return &Definition{
		ID:         "phish-basic",
		Kind:       KindGraph,
		Difficulty: 2,
		Entry:      "inbox",
		Nodes: []Node{
			{ID: "inbox", Type: NodeDecision, Position: &Position{X: 10, Y: 20}, Edges: []Edge{
				{ID: "click", Target: "bad", Trigger: TriggerUrgency},
				{ID: "report", Target: "good", Trigger: TriggerUrgency, Safe: true},
			}},
			{ID: "bad", Type: NodeOutcome},
			{ID: "good", Type: NodeOutcome},
		},
	}
}

func TestValidateCleanGraph(t *testing.T) {
	res := Validate(phishingGraph())
	if !res.OK() {
		t.Fatalf("expected clean result, got %v", res.Errors)
	}
	if res.Err() != nil {
		t.Errorf("expected nil error, got %v", res.Err())
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	def := phishingGraph()
	before := phishingGraph()
	Validate(def)
	if !reflect.DeepEqual(def, before) {
		t.Errorf("Validate mutated its input")
	}
}

func TestValidateDanglingEdge(t *testing.T) {
	def := phishingGraph()
	def.Nodes[0].Edges[0].Target = "nowhere"
	def.Nodes = def.Nodes[:1]
	def.Nodes = append(def.Nodes, Node{ID: "good", Type: NodeOutcome})

	res := Validate(def)
	if !res.Has(DanglingEdge) {
		t.Errorf("expected DanglingEdge, got %v", res.Errors)
	}
	if !errors.Is(res.Err(), ErrInvalidDefinition) {
		t.Errorf("expected error wrapping ErrInvalidDefinition")
	}
}

func TestValidateOrphanNode(t *testing.T) {
	def := phishingGraph()
	def.Nodes = append(def.Nodes, Node{ID: "island", Type: NodeOutcome})

	res := Validate(def)
	if !res.Has(OrphanNode) {
		t.Fatalf("expected OrphanNode, got %v", res.Errors)
	}
	for _, e := range res.Errors {
		if e.Kind == OrphanNode && e.NodeID != "island" {
			t.Errorf("expected orphan island, got %s", e.NodeID)
		}
	}
}

func TestValidateMultipleEntryPoints(t *testing.T) {
	def := phishingGraph()
	def.Nodes[1].Entry = true

	res := Validate(def)
	if !res.Has(MultipleEntryPoints) {
		t.Errorf("expected MultipleEntryPoints, got %v", res.Errors)
	}
	if def.EntryPoint() != "" {
		t.Errorf("expected ambiguous entry to resolve to empty, got %s", def.EntryPoint())
	}
}

func TestValidateEntryFlagOnNode(t *testing.T) {
	def := phishingGraph()
	def.Entry = ""
	def.Nodes[0].Entry = true

	res := Validate(def)
	if !res.OK() {
		t.Errorf("expected node entry flag to be accepted, got %v", res.Errors)
	}
	if def.EntryPoint() != "inbox" {
		t.Errorf("expected inbox entry, got %s", def.EntryPoint())
	}
}

func TestValidateMissingEntryPoint(t *testing.T) {
	def := phishingGraph()
	def.Entry = ""

	res := Validate(def)
	if !res.Has(MissingEntryPoint) {
		t.Errorf("expected MissingEntryPoint, got %v", res.Errors)
	}
}

func TestValidateCycleDetected(t *testing.T) {
	def := &Definition{
		ID:         "loop",
		Kind:       KindGraph,
		Difficulty: 1,
		Entry:      "a",
		Nodes: []Node{
			{ID: "a", Type: NodeContent, Edges: []Edge{{ID: "next", Target: "b"}}},
			{ID: "b", Type: NodeDecision, Edges: []Edge{
				{ID: "back", Target: "a"},
				{ID: "out", Target: "end", Safe: true},
			}},
			{ID: "end", Type: NodeOutcome},
		},
	}

	res := Validate(def)
	if !res.Has(CycleDetected) {
		t.Errorf("expected CycleDetected, got %v", res.Errors)
	}
}

func TestValidateDeadEnd(t *testing.T) {
	def := phishingGraph()
	def.Nodes = append(def.Nodes, Node{ID: "stuck", Type: NodeDecision})
	def.Nodes[0].Edges = append(def.Nodes[0].Edges, Edge{ID: "hover", Target: "stuck"})

	res := Validate(def)
	if !res.Has(DeadEnd) {
		t.Errorf("expected DeadEnd, got %v", res.Errors)
	}
	if res.Has(OrphanNode) {
		t.Errorf("stuck node is reachable, got %v", res.Errors)
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	def := phishingGraph()
	def.Nodes[0].Edges = append(def.Nodes[0].Edges, Edge{ID: "click", Target: "good"})

	res := Validate(def)
	if !res.Has(DuplicateID) {
		t.Errorf("expected DuplicateID, got %v", res.Errors)
	}
}

func TestValidateDifficultyBounds(t *testing.T) {
	def := phishingGraph()
	def.Difficulty = MaxDifficulty + 1

	if !Validate(def).Has(InvalidDifficulty) {
		t.Errorf("expected InvalidDifficulty for %d", def.Difficulty)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	def := phishingGraph()
	def.Kind = "maze"

	if !Validate(def).Has(UnknownKind) {
		t.Errorf("expected UnknownKind")
	}
}

func ransomwareSteps() *Definition {
	return &Definition{
		ID:         "ransom-4",
		Kind:       KindOrderedSteps,
		Difficulty: 2,
		Steps: []Step{
			{ID: "s0", ExpectedAction: "disconnect_network", SuccessPoints: 20, FailurePenalty: 10, Position: 0},
			{ID: "s1", ExpectedAction: "open_task_manager", SuccessPoints: 10, FailurePenalty: 5, Position: 1},
			{ID: "s2", ExpectedAction: "end_process", SuccessPoints: 15, FailurePenalty: 10, Position: 2},
			{ID: "s3", ExpectedAction: "take_screenshot", SuccessPoints: 10, FailurePenalty: 5, Position: 3},
		},
	}
}

func TestValidateOrderedSteps(t *testing.T) {
	def := ransomwareSteps()
	if res := Validate(def); !res.OK() {
		t.Fatalf("expected clean steps, got %v", res.Errors)
	}
	if def.EntryPoint() != "s0" {
		t.Errorf("expected entry s0, got %s", def.EntryPoint())
	}
}

func TestValidateStepOrder(t *testing.T) {
	def := ransomwareSteps()
	def.Steps[3].Position = 1

	if !Validate(def).Has(InvalidStepOrder) {
		t.Errorf("expected InvalidStepOrder for shared position")
	}
}

func TestValidateStepWithoutAction(t *testing.T) {
	def := ransomwareSteps()
	def.Steps[1].ExpectedAction = " "

	if !Validate(def).Has(DeadEnd) {
		t.Errorf("expected DeadEnd for step without expected action")
	}
}

func TestValidateStepEntryMustBeFirst(t *testing.T) {
	def := ransomwareSteps()
	def.Entry = "s2"

	if !Validate(def).Has(MultipleEntryPoints) {
		t.Errorf("expected MultipleEntryPoints when entry is not the first step")
	}

	def.Entry = "missing"
	if !Validate(def).Has(DanglingEdge) {
		t.Errorf("expected DanglingEdge for unknown entry step")
	}
}

func TestValidateEmpty(t *testing.T) {
	if !Validate(&Definition{ID: "x", Kind: KindGraph, Difficulty: 1}).Has(EmptyScenario) {
		t.Errorf("expected EmptyScenario for graph")
	}
	if !Validate(&Definition{ID: "y", Kind: KindOrderedSteps, Difficulty: 1}).Has(EmptyScenario) {
		t.Errorf("expected EmptyScenario for steps")
	}
	if !Validate(nil).Has(EmptyScenario) {
		t.Errorf("expected EmptyScenario for nil")
	}
}

func TestTemplatesAreValid(t *testing.T) {
	for d := MinDifficulty; d <= MaxDifficulty; d++ {
		for _, typ := range []string{TypePhishing, TypeRansomware} {
			def := Template(typ, d, nil)
			if res := Validate(def); !res.OK() {
				t.Errorf("template %s d%d invalid: %v", typ, d, res.Errors)
			}
		}
	}
	for variant := range ransomwareDrills {
		def := RansomwareTemplate(variant, 3)
		if len(def.Steps) != 8 {
			t.Errorf("expected 8 steps in %s, got %d", variant, len(def.Steps))
		}
	}
}

func TestLibraryIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	lib := Library()
	for _, def := range lib {
		if seen[def.ID] {
			t.Errorf("duplicate template id %s", def.ID)
		}
		seen[def.ID] = true
	}
	want := (MaxDifficulty - MinDifficulty + 1) * (len(ransomwareDrills) + 1)
	if len(lib) != want {
		t.Errorf("expected %d templates, got %d", want, len(lib))
	}
}

func TestTemplatesAreFreshCopies(t *testing.T) {
	a := RansomwareTemplate("crypto_locker", 1)
	a.Steps[0].ExpectedAction = "changed"

	b := RansomwareTemplate("crypto_locker", 1)
	if b.Steps[0].ExpectedAction != "disconnect_network" {
		t.Errorf("template library was mutated through a returned copy")
	}
}
