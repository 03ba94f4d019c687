package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/scoring"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

func ransomwareDrill() *scenario.Definition {
	return &scenario.Definition{
		ID:           "ransom-4",
		Kind:         scenario.KindOrderedSteps,
		ScenarioType: scenario.TypeRansomware,
		Difficulty:   2,
		Steps: []scenario.Step{
			{ID: "s0", ExpectedAction: "disconnect_network", SuccessPoints: 20, FailurePenalty: 10, Position: 0},
			{ID: "s1", ExpectedAction: "open_task_manager", SuccessPoints: 10, FailurePenalty: 5, Position: 1},
			{ID: "s2", ExpectedAction: "end_process", SuccessPoints: 15, FailurePenalty: 10, Position: 2},
			{ID: "s3", ExpectedAction: "take_screenshot", SuccessPoints: 10, FailurePenalty: 5, Position: 3},
		},
	}
}

func phishingDrill() *scenario.Definition {
	return &scenario.Definition{
		ID:           "phish-1",
		Kind:         scenario.KindGraph,
		ScenarioType: scenario.TypePhishing,
		Difficulty:   2,
		Entry:        "inbox",
		Nodes: []scenario.Node{
			{ID: "inbox", Type: scenario.NodeDecision, SuccessPoints: 20, FailurePoints: 10, Edges: []scenario.Edge{
				{ID: "click", Target: "compromised", Trigger: scenario.TriggerUrgency},
				{ID: "report", Target: "reported", Trigger: scenario.TriggerUrgency, Safe: true},
			}},
			{ID: "compromised", Type: scenario.NodeOutcome},
			{ID: "reported", Type: scenario.NodeOutcome},
		},
	}
}

type fixture struct {
	store *storage.Memory
	bus   *events.Bus
	eng   *Engine
	now   time.Time
	mu    sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemory(),
		bus:   events.NewBus(128),
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	for _, def := range []*scenario.Definition{ransomwareDrill(), phishingDrill()} {
		if err := f.store.PutScenario(ctx, def); err != nil {
			t.Fatalf("failed to store scenario: %v", err)
		}
	}
	f.eng = NewEngine(f.store, f.store, scoring.New(scoring.DefaultConfig()), f.bus, nil)
	f.eng.SetClock(f.clock)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func step(seq int64, name string) model.Action {
	return model.Action{Sequence: seq, ActionType: name, ResponseTimeSeconds: 5}
}

func eventNames(bus *events.Bus) []string {
	var names []string
	for _, ev := range bus.Snapshot() {
		names = append(names, ev.Name)
	}
	return names
}

func hasEvent(bus *events.Bus, name string) bool {
	for _, n := range eventNames(bus) {
		if n == name {
			return true
		}
	}
	return false
}

func TestRansomwareDrillInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.eng.Start(ctx, "ransom-4", "alice")
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if s.State != model.StateActive || s.CurrentNode != "s0" {
		t.Fatalf("expected active at s0, got %s at %s", s.State, s.CurrentNode)
	}

	var last model.ActionResult
	for i, name := range []string{"disconnect_network", "open_task_manager", "end_process", "take_screenshot"} {
		last, err = f.eng.SubmitAction(ctx, s.ID, step(int64(i+1), name))
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if !last.Correct {
			t.Errorf("step %d: expected correct", i)
		}
	}

	if !last.SessionComplete || last.NextStep != nil {
		t.Errorf("expected completion on last step, got %+v", last)
	}
	if last.SessionScore != 55 {
		t.Errorf("expected score 55, got %d", last.SessionScore)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.State != model.StateCompleted || stored.EndedAt == nil {
		t.Errorf("expected completed with end time, got %s", stored.State)
	}
	if stored.CorrectCount != 4 || stored.IncorrectCount != 0 {
		t.Errorf("unexpected counters %d/%d", stored.CorrectCount, stored.IncorrectCount)
	}
	if got := scoring.Total(stored.Events()); got != stored.Score {
		t.Errorf("score %d does not equal sum of logged points %d", stored.Score, got)
	}
	if !hasEvent(f.bus, "session.completed") {
		t.Errorf("expected session.completed event, got %v", eventNames(f.bus))
	}
}

func TestMisorderedStepIsPenalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "ransom-4", "bob")

	res, err := f.eng.SubmitAction(ctx, s.ID, step(1, "end_process"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Correct || res.ScoreDelta != -10 {
		t.Errorf("expected -10 penalty, got %+v", res)
	}
	if res.NextStep == nil || *res.NextStep != 0 {
		t.Errorf("expected to stay on step 0, got %v", res.NextStep)
	}

	res, err = f.eng.SubmitAction(ctx, s.ID, step(2, "disconnect_network"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Correct || res.SessionScore != 10 {
		t.Errorf("expected recovery to score 10, got %+v", res)
	}
}

func TestResubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "ransom-4", "carol")

	first, err := f.eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := f.eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network"))
	if err != nil {
		t.Fatalf("unexpected error on resubmit: %v", err)
	}
	if first.SessionScore != again.SessionScore || first.ScoreDelta != again.ScoreDelta {
		t.Errorf("resubmission changed result: %+v vs %+v", first, again)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if len(stored.Log) != 1 || stored.Score != 20 {
		t.Errorf("expected one applied action and score 20, got %d actions score %d", len(stored.Log), stored.Score)
	}
}

func TestStaleSequenceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "ransom-4", "dave")

	f.eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network"))
	f.eng.SubmitAction(ctx, s.ID, step(3, "open_task_manager"))

	_, err := f.eng.SubmitAction(ctx, s.ID, step(2, "end_process"))
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Sequence != 2 {
		t.Errorf("expected ActionError for sequence 2, got %v", err)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.LastSequence != 3 || len(stored.Log) != 2 {
		t.Errorf("rejected action changed the session: last=%d log=%d", stored.LastSequence, len(stored.Log))
	}
	if !hasEvent(f.bus, "session.action_rejected") {
		t.Errorf("expected session.action_rejected event")
	}
}

func TestNegativeResponseTimeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "ransom-4", "mona")

	a := step(1, "disconnect_network")
	a.ResponseTimeSeconds = -500
	if _, err := f.eng.SubmitAction(ctx, s.ID, a); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.Score != 0 || stored.LastSequence != 0 || len(stored.Log) != 0 {
		t.Errorf("rejected action changed the session: score=%d seq=%d", stored.Score, stored.LastSequence)
	}
	if !hasEvent(f.bus, "session.action_rejected") {
		t.Errorf("expected session.action_rejected event")
	}

	// The same sequence is still free for a well-formed retry.
	res, err := f.eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network"))
	if err != nil || !res.Correct {
		t.Errorf("expected retry to be accepted, got %+v, %v", res, err)
	}
}

func TestUnknownChoiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "phish-1", "erin")

	_, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, ActionType: "click", TargetID: "forward"})
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.CurrentNode != "inbox" || stored.LastSequence != 0 {
		t.Errorf("expected untouched session, got %s/%d", stored.CurrentNode, stored.LastSequence)
	}
}

func TestGraphChoiceScoresTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "phish-1", "frank")

	res, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, ActionType: "click", TargetID: "click"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Correct || res.ScoreDelta != -10 || !res.SessionComplete || res.NextNode != "compromised" {
		t.Errorf("unexpected result: %+v", res)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.Log[0].Event.Trigger != scenario.TriggerUrgency {
		t.Errorf("expected urgency trigger on event, got %s", stored.Log[0].Event.Trigger)
	}
	if stored.DisplayScore() != 0 || stored.Score != -10 {
		t.Errorf("expected raw -10 displayed as 0, got %d/%d", stored.Score, stored.DisplayScore())
	}
}

func TestNavigationEdgeCountsAsCorrect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := &scenario.Definition{
		ID:         "briefing",
		Kind:       scenario.KindGraph,
		Difficulty: 1,
		Entry:      "intro",
		Nodes: []scenario.Node{
			{ID: "intro", Type: scenario.NodeContent, SuccessPoints: 10, FailurePoints: 5, Edges: []scenario.Edge{
				{ID: "next", Target: "inbox"},
			}},
			{ID: "inbox", Type: scenario.NodeDecision, SuccessPoints: 20, FailurePoints: 10, Edges: []scenario.Edge{
				{ID: "click", Target: "end", Trigger: scenario.TriggerCuriosity},
				{ID: "delete", Target: "end", Safe: true},
			}},
			{ID: "end", Type: scenario.NodeOutcome},
		},
	}
	if err := f.store.PutScenario(ctx, def); err != nil {
		t.Fatalf("failed to store scenario: %v", err)
	}

	s, err := f.eng.Start(ctx, "briefing", "liam")
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	res, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, ActionType: "continue", TargetID: "next", ResponseTimeSeconds: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Correct || res.ScoreDelta != 10 {
		t.Errorf("expected correct navigation worth 10, got correct=%v delta=%d", res.Correct, res.ScoreDelta)
	}

	// An untriggered edge off a decision node is still a real choice.
	res, err = f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 2, ActionType: "click", TargetID: "click", ResponseTimeSeconds: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Correct || res.ScoreDelta != -10 {
		t.Errorf("expected unsafe click to cost 10, got correct=%v delta=%d", res.Correct, res.ScoreDelta)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.CorrectCount != 1 || stored.IncorrectCount != 1 {
		t.Errorf("unexpected counters: %d/%d", stored.CorrectCount, stored.IncorrectCount)
	}
}

func TestStatesOnlyMoveForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "phish-1", "gina")

	if _, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, TargetID: "report"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 2, TargetID: "report"})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after completion, got %v", err)
	}
	if _, err := f.eng.Cancel(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected cancel of completed session to fail, got %v", err)
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.State != model.StateCompleted {
		t.Errorf("expected completed, got %s", stored.State)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "ransom-4", "hank")

	out, err := f.eng.Cancel(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != model.StateAbandoned || out.AbandonReason != model.ReasonCancelled {
		t.Errorf("expected abandoned/cancelled, got %s/%s", out.State, out.AbandonReason)
	}
	if _, err := f.eng.Cancel(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected second cancel to fail, got %v", err)
	}
	if !hasEvent(f.bus, "session.abandoned") {
		t.Errorf("expected session.abandoned event")
	}
}

func TestStartUnknownScenario(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Start(context.Background(), "nope", "ivy")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStartInvalidScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := phishingDrill()
	bad.ID = "broken"
	bad.Nodes[0].Edges[0].Target = "void"
	f.store.PutScenario(ctx, bad)

	_, err := f.eng.Start(ctx, "broken", "jack")
	if !errors.Is(err, scenario.ErrInvalidDefinition) {
		t.Errorf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestScenarioCannotChangeUnderLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.eng.Start(ctx, "phish-1", "kate")
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	v2 := phishingDrill()
	v2.Entry = "start"
	v2.Nodes[0].ID = "start"
	if err := f.store.PutScenario(ctx, v2); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on overwrite, got %v", err)
	}

	res, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, ActionType: "report", TargetID: "report", ResponseTimeSeconds: 5})
	if err != nil {
		t.Fatalf("expected session to continue on its definition, got %v", err)
	}
	if !res.SessionComplete || res.NextNode != "reported" {
		t.Errorf("unexpected result: %+v", res)
	}

	_, rep, err := f.eng.ReplaySession(ctx, s.ID)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !rep.OK() {
		t.Errorf("expected replay to audit cleanly, got %v", rep.Mismatches)
	}
}

func TestConcurrentSubmitsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.eng.Start(ctx, "ransom-4", "kim")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network"))
		}()
	}
	wg.Wait()

	stored, _ := f.eng.Get(ctx, s.ID)
	if len(stored.Log) != 1 || stored.Score != 20 {
		t.Errorf("expected exactly one applied action, got %d (score %d)", len(stored.Log), stored.Score)
	}
}

// flakyApplier fails the first n calls.
type flakyApplier struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (a *flakyApplier) Apply(_ context.Context, sum model.Summary) (*model.BehaviorProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fails > 0 {
		a.fails--
		return nil, errors.New("profile store unavailable")
	}
	return model.NewBehaviorProfile(sum.UserID), nil
}

func TestProfileFoldFailureIsRetriedOnResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	applier := &flakyApplier{fails: 1}
	f.eng.SetProfileApplier(applier)

	s, _ := f.eng.Start(ctx, "phish-1", "lena")
	res, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, TargetID: "report"})
	if !errors.Is(err, profile.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if !res.SessionComplete {
		t.Errorf("expected result to be returned with the error")
	}

	stored, _ := f.eng.Get(ctx, s.ID)
	if stored.State != model.StateCompleted || stored.ProfileApplied {
		t.Fatalf("expected completed session with pending profile fold, got %s applied=%v", stored.State, stored.ProfileApplied)
	}

	again, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, TargetID: "report"})
	if err != nil {
		t.Fatalf("expected replay to succeed, got %v", err)
	}
	if again.SessionScore != res.SessionScore {
		t.Errorf("replay changed the result")
	}
	stored, _ = f.eng.Get(ctx, s.ID)
	if !stored.ProfileApplied || applier.calls != 2 {
		t.Errorf("expected profile applied after second call, applied=%v calls=%d", stored.ProfileApplied, applier.calls)
	}

	f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, TargetID: "report"})
	if applier.calls != 2 {
		t.Errorf("expected no further profile calls, got %d", applier.calls)
	}
}

func TestProfileFoldWithRealService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := profile.NewService(f.store, nil, nil, f.bus, nil, profile.DefaultRetryConfig())
	f.eng.SetProfileApplier(svc)

	s, _ := f.eng.Start(ctx, "phish-1", "mona")
	if _, err := f.eng.SubmitAction(ctx, s.ID, model.Action{Sequence: 1, TargetID: "click"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := svc.Get(ctx, "mona")
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	if p.SessionsFolded != 1 || p.MaliciousClicks != 1 {
		t.Errorf("expected one session with one click, got %+v", p)
	}
	if p.TriggerSusceptibility[scenario.TriggerUrgency] <= 0.5 {
		t.Errorf("expected urgency susceptibility to rise, got %v", p.TriggerSusceptibility)
	}
}

// failingSaves fails SaveSession once armed.
type failingSaves struct {
	*storage.Memory
	armed bool
}

func (r *failingSaves) SaveSession(ctx context.Context, s *model.Session) error {
	if r.armed {
		return errors.New("disk full")
	}
	return r.Memory.SaveSession(ctx, s)
}

func TestSaveFailureLeavesSessionUnchanged(t *testing.T) {
	mem := storage.NewMemory()
	ctx := context.Background()
	mem.PutScenario(ctx, ransomwareDrill())
	repo := &failingSaves{Memory: mem}
	eng := NewEngine(mem, repo, nil, nil, nil)

	s, err := eng.Start(ctx, "ransom-4", "nina")
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	repo.armed = true

	if _, err := eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network")); err == nil {
		t.Fatalf("expected save error")
	}
	stored, _ := eng.Get(ctx, s.ID)
	if stored.LastSequence != 0 || stored.Score != 0 || stored.CurrentStepIndex != 0 || len(stored.Log) != 0 {
		t.Errorf("failed action leaked into stored session: %+v", stored)
	}

	repo.armed = false
	if _, err := eng.SubmitAction(ctx, s.ID, step(1, "disconnect_network")); err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
}
