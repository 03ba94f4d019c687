package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/orchestrator"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
	"github.com/AaronLay10/SentientDrill/internal/storage/postgres"
)

type testEnv struct {
	store  *storage.Memory
	bus    *events.Bus
	server *Server
	router http.Handler
}

func newTestEnv(t *testing.T, auth *Auth) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	bus := events.NewBus(256)
	ctx := context.Background()

	for _, def := range []*scenario.Definition{
		scenario.RansomwareTemplate("crypto_locker", 1),
		scenario.PhishingTemplate(2, nil),
	} {
		if err := store.PutScenario(ctx, def); err != nil {
			t.Fatalf("failed to store scenario: %v", err)
		}
	}

	eng := orchestrator.NewEngine(store, store, nil, bus, nil)
	profiles := profile.NewService(store, nil, nil, bus, nil, profile.DefaultRetryConfig())
	eng.SetProfileApplier(profiles)

	srv := NewServer(Deps{
		Engine:    eng,
		Scenarios: store,
		Profiles:  profiles,
		Bus:       bus,
		Auth:      auth,
	})
	return &testEnv{store: store, bus: bus, server: srv, router: srv.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, creds *Credentials) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("failed to encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if creds != nil {
		req.SetBasicAuth(creds.User, creds.Pass)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func (e *testEnv) startSession(t *testing.T, scenarioID, userID string) SessionView {
	t.Helper()
	w := e.do(t, "POST", "/api/sessions", startSessionRequest{ScenarioID: scenarioID, UserID: userID}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var v SessionView
	decode(t, w, &v)
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.Readiness.Set("storage", true)

	w := env.do(t, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Service != "drilld" || !resp.Checks["storage"] {
		t.Errorf("unexpected health: %+v", resp)
	}

	env.server.Readiness.Set("mqtt", false)
	w = env.do(t, "GET", "/health", nil, nil)
	decode(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("expected degraded, got %s", resp.Status)
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.startSession(t, "template.ransomware.crypto_locker.d1", "alice")
	if sess.State != model.StateActive || sess.CurrentNode != "crypto_locker.1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	path := "/api/sessions/" + sess.ID + "/actions"
	w := env.do(t, "POST", path, model.Action{Sequence: 1, ActionType: "disconnect_network"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res model.ActionResult
	decode(t, w, &res)
	if !res.Correct || res.SessionScore != 20 {
		t.Errorf("unexpected result: %+v", res)
	}

	// resubmission returns the recorded result
	w = env.do(t, "POST", path, model.Action{Sequence: 1, ActionType: "disconnect_network"}, nil)
	var again model.ActionResult
	decode(t, w, &again)
	if w.Code != http.StatusOK || again.SessionScore != 20 {
		t.Errorf("expected idempotent resubmission, got %d %+v", w.Code, again)
	}

	w = env.do(t, "POST", path, model.Action{Sequence: 3, ActionType: "take_screenshot"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = env.do(t, "POST", path, model.Action{Sequence: 2, ActionType: "take_screenshot"}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for stale sequence, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/sessions/"+sess.ID+"/cancel", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d", w.Code)
	}
	var cancelled SessionView
	decode(t, w, &cancelled)
	if cancelled.State != model.StateAbandoned || cancelled.AbandonReason != model.ReasonCancelled {
		t.Errorf("unexpected cancelled session: %+v", cancelled)
	}

	w = env.do(t, "POST", path, model.Action{Sequence: 4, ActionType: "open_task_manager"}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 after cancel, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/sessions/"+sess.ID+"/replay", nil, nil)
	var replay struct {
		OK bool `json:"ok"`
	}
	decode(t, w, &replay)
	if w.Code != http.StatusOK || !replay.OK {
		t.Errorf("expected clean replay, got %d %s", w.Code, w.Body.String())
	}
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, "GET", "/api/sessions/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/sessions", startSessionRequest{ScenarioID: "missing", UserID: "u"}, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown scenario, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/sessions", "{broken", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/sessions/x/actions", model.Action{ActionType: "a"}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing sequence, got %d", w.Code)
	}

	sess := env.startSession(t, scenario.RansomwareTemplate("crypto_locker", 1).ID, "nina")
	neg := model.Action{Sequence: 1, ActionType: "disconnect_network", ResponseTimeSeconds: -3}
	if w := env.do(t, "POST", "/api/sessions/"+sess.ID+"/actions", neg, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for negative response time, got %d", w.Code)
	}
}

func TestProfileEndpointsAfterSession(t *testing.T) {
	env := newTestEnv(t, nil)
	id := scenario.PhishingTemplate(2, nil).ID
	sess := env.startSession(t, id, "bob")

	path := "/api/sessions/" + sess.ID + "/actions"
	env.do(t, "POST", path, model.Action{Sequence: 1, ActionType: "click", TargetID: "open_email"}, nil)
	w := env.do(t, "POST", path, model.Action{Sequence: 2, ActionType: "click", TargetID: "click_link"}, nil)
	var res model.ActionResult
	decode(t, w, &res)
	if !res.SessionComplete {
		t.Fatalf("expected completion, got %+v", res)
	}

	w = env.do(t, "GET", "/api/users/bob/profile", nil, nil)
	var p model.BehaviorProfile
	decode(t, w, &p)
	if w.Code != http.StatusOK || p.SessionsFolded != 1 || p.MaliciousClicks != 1 {
		t.Errorf("unexpected profile: %d %+v", w.Code, p)
	}

	w = env.do(t, "GET", "/api/users/bob/recommendation", nil, nil)
	var rec model.DifficultyRecommendation
	decode(t, w, &rec)
	if w.Code != http.StatusOK || rec.UserID != "bob" || rec.RiskBand == "" {
		t.Errorf("unexpected recommendation: %d %+v", w.Code, rec)
	}

	w = env.do(t, "GET", "/api/users/bob/insights", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "primary_vulnerability") {
		t.Errorf("unexpected insights: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/users/nobody/profile", nil, nil)
	decode(t, w, &p)
	if w.Code != http.StatusOK || p.SessionsFolded != 0 {
		t.Errorf("expected default profile for unknown user, got %d %+v", w.Code, p)
	}
}

func TestScenarioEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/scenarios?kind=ordered-steps", nil, nil)
	var list []ScenarioSummary
	decode(t, w, &list)
	if len(list) != 1 || list[0].Kind != scenario.KindOrderedSteps {
		t.Errorf("expected one ordered-steps scenario, got %+v", list)
	}

	bad := scenario.PhishingTemplate(2, nil)
	bad.ID = "broken"
	bad.Nodes[0].Edges[0].Target = "void"
	w = env.do(t, "POST", "/api/scenarios", bad, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid definition, got %d", w.Code)
	}
	var env400 ErrorEnvelope
	decode(t, w, &env400)
	if env400.Error.Code != "invalid_definition" || env400.Error.Details == nil {
		t.Errorf("expected validation details, got %+v", env400)
	}

	w = env.do(t, "POST", "/api/scenarios/validate", bad, nil)
	var vr struct {
		OK bool `json:"ok"`
	}
	decode(t, w, &vr)
	if w.Code != http.StatusOK || vr.OK {
		t.Errorf("expected validate to report errors, got %d %s", w.Code, w.Body.String())
	}

	good := scenario.RansomwareTemplate("file_encrypt", 4)
	good.ID = "custom-ransom"
	w = env.do(t, "POST", "/api/scenarios", good, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, "GET", "/api/scenarios/custom-ransom", nil, nil); w.Code != http.StatusOK {
		t.Errorf("expected stored scenario, got %d", w.Code)
	}

	if w := env.do(t, "POST", "/api/scenarios", good, nil); w.Code != http.StatusCreated {
		t.Errorf("expected unchanged re-put to succeed, got %d", w.Code)
	}
	good.Steps[0].SuccessPoints = 99
	w = env.do(t, "POST", "/api/scenarios", good, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for overwrite, got %d: %s", w.Code, w.Body.String())
	}
	var env409 ErrorEnvelope
	decode(t, w, &env409)
	if env409.Error.Code != "conflict" {
		t.Errorf("expected conflict code, got %+v", env409)
	}
}

func TestGenerateFallsBackToTemplate(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/scenarios/generate", map[string]interface{}{
		"scenario_type": "phishing",
		"user_id":       "carol",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Source   scenario.Source     `json:"source"`
		Scenario scenario.Definition `json:"scenario"`
	}
	decode(t, w, &resp)
	if resp.Source != scenario.SourceTemplate {
		t.Errorf("expected template source, got %s", resp.Source)
	}
	if _, err := env.store.GetScenario(context.Background(), resp.Scenario.ID); err != nil {
		t.Errorf("expected generated scenario to be stored: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.Metrics.Observe(events.Event{Name: "session.started"})
	env.server.Metrics.Observe(events.Event{Name: "session.started"})

	w := env.do(t, "GET", "/metrics", nil, nil)
	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(body, "# TYPE drill_sessions_started_total counter") {
		t.Errorf("missing type line: %s", body)
	}
	if !strings.Contains(body, "drill_sessions_started_total{") || !strings.Contains(body, "} 2\n") {
		t.Errorf("expected started count 2: %s", body)
	}
}

type fakeAudit struct {
	session string
	limit   int
}

func (f *fakeAudit) Query(_ context.Context, sessionID string, limit int) ([]postgres.EventRow, error) {
	f.session, f.limit = sessionID, limit
	return []postgres.EventRow{{EventID: 7, Level: "info", Event: "session.started", SessionID: &sessionID}}, nil
}

func TestSessionAudit(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/sessions/abc/audit", nil, nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without audit log, got %d", w.Code)
	}

	audit := &fakeAudit{}
	env.server.Audit = audit
	w = env.do(t, "GET", "/api/sessions/abc/audit?limit=5", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rows []postgres.EventRow
	decode(t, w, &rows)
	if len(rows) != 1 || rows[0].EventID != 7 {
		t.Errorf("unexpected rows: %+v", rows)
	}
	if audit.session != "abc" || audit.limit != 5 {
		t.Errorf("unexpected query args: %s/%d", audit.session, audit.limit)
	}
}
