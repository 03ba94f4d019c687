package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "drill.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScenarioRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	def := scenario.Template(scenario.TypePhishing, 3, nil)
	if err := s.PutScenario(ctx, def); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutScenario(ctx, def); err != nil {
		t.Fatalf("re-put: %v", err)
	}

	got, err := s.GetScenario(ctx, def.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Entry != "inbox" || len(got.Nodes) != len(def.Nodes) {
		t.Errorf("unexpected definition: %+v", got)
	}
	if res := scenario.Validate(got); !res.OK() {
		t.Errorf("round-tripped definition invalid: %v", res.Errors)
	}

	list, _ := s.ListScenarios(ctx)
	if len(list) != 1 {
		t.Errorf("expected 1 scenario, got %d", len(list))
	}

	if _, err := s.GetScenario(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestScenarioOverwriteRejected(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	def := scenario.RansomwareTemplate("crypto_locker", 2)
	if err := s.PutScenario(ctx, def); err != nil {
		t.Fatalf("put: %v", err)
	}

	changed := scenario.RansomwareTemplate("crypto_locker", 2)
	changed.Steps[0].SuccessPoints = 99
	if err := s.PutScenario(ctx, changed); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetScenario(ctx, def.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Steps[0].SuccessPoints != 20 {
		t.Errorf("stored definition was replaced: %d", got.Steps[0].SuccessPoints)
	}
}

func TestSessionUpsertAndActiveList(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := &model.Session{ID: "s1", UserID: "u1", State: model.StateActive, LastActivityAt: now, Score: -5}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.SaveSession(ctx, &model.Session{ID: "s2", UserID: "u1", State: model.StateActive, LastActivityAt: now})

	sess.State = model.StateCompleted
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StateCompleted || got.Score != -5 {
		t.Errorf("unexpected session: state=%s score=%d", got.State, got.Score)
	}

	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "s2" {
		t.Errorf("expected only s2 active, got %d", len(active))
	}
}

func TestProfileVersionCheck(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p := model.NewBehaviorProfile("u1")
	p.TriggerSusceptibility[scenario.TriggerUrgency] = 0.65
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a, _ := s.GetProfile(ctx, "u1")
	b, _ := s.GetProfile(ctx, "u1")

	a.TotalXP = 10
	if err := s.SaveProfile(ctx, a); err != nil {
		t.Fatalf("update a: %v", err)
	}
	b.TotalXP = 20
	if err := s.SaveProfile(ctx, b); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("expected conflict for stale writer, got %v", err)
	}

	got, _ := s.GetProfile(ctx, "u1")
	if got.Version != 2 || got.TotalXP != 10 {
		t.Errorf("expected version 2 xp 10, got %d/%d", got.Version, got.TotalXP)
	}
	if got.TriggerSusceptibility[scenario.TriggerUrgency] != 0.65 {
		t.Errorf("susceptibility lost in round trip")
	}
}
