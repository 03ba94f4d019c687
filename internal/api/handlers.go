package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AaronLay10/SentientDrill/internal/advisor"
	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
)

type startSessionRequest struct {
	ScenarioID string `json:"scenario_id"`
	UserID     string `json:"user_id"`
}

// SessionView is the session handle returned to clients. The action log is
// omitted; fetch it through the replay endpoint.
type SessionView struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	ScenarioID       string             `json:"scenario_id"`
	Difficulty       int                `json:"difficulty"`
	State            model.SessionState `json:"state"`
	CurrentNode      string             `json:"current_node,omitempty"`
	CurrentStepIndex int                `json:"current_step_index"`
	Score            int                `json:"score"`
	DisplayScore     int                `json:"display_score"`
	XP               int                `json:"xp"`
	CorrectCount     int                `json:"correct_count"`
	IncorrectCount   int                `json:"incorrect_count"`
	LastSequence     int64              `json:"last_sequence"`
	AbandonReason    string             `json:"abandon_reason,omitempty"`
	ProfileApplied   bool               `json:"profile_applied"`
	StartedAt        string             `json:"started_at"`
	EndedAt          string             `json:"ended_at,omitempty"`
}

func viewOf(s *model.Session) SessionView {
	v := SessionView{
		ID:               s.ID,
		UserID:           s.UserID,
		ScenarioID:       s.ScenarioID,
		Difficulty:       s.Difficulty,
		State:            s.State,
		CurrentNode:      s.CurrentNode,
		CurrentStepIndex: s.CurrentStepIndex,
		Score:            s.Score,
		DisplayScore:     s.DisplayScore(),
		XP:               s.XP,
		CorrectCount:     s.CorrectCount,
		IncorrectCount:   s.IncorrectCount,
		LastSequence:     s.LastSequence,
		AbandonReason:    s.AbandonReason,
		ProfileApplied:   s.ProfileApplied,
		StartedAt:        s.StartedAt.Format(timeFormat),
	}
	if s.EndedAt != nil {
		v.EndedAt = s.EndedAt.Format(timeFormat)
	}
	return v
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (s *Server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.ScenarioID == "" || req.UserID == "" {
		badRequest(c, "scenario_id and user_id required")
		return
	}

	sess, err := s.Engine.Start(c.Request.Context(), req.ScenarioID, req.UserID)
	if err != nil && sess == nil {
		s.respondError(c, err)
		return
	}
	// A profile fold that failed after an instant completion is retried later.
	c.JSON(http.StatusCreated, viewOf(sess))
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) handleSubmitAction(c *gin.Context) {
	var a model.Action
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if a.Sequence <= 0 {
		badRequest(c, "sequence must be positive")
		return
	}
	if a.ActionType == "" && a.TargetID == "" {
		badRequest(c, "action_type or target_id required")
		return
	}

	res, err := s.Engine.SubmitAction(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		// The action is recorded; only the profile update is pending.
		if errors.Is(err, profile.ErrTransient) {
			c.Header("X-Profile-Pending", "true")
			c.JSON(http.StatusOK, res)
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCancelSession(c *gin.Context) {
	sess, err := s.Engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil && sess == nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) handleReplaySession(c *gin.Context) {
	sess, report, err := s.Engine.ReplaySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report": report,
		"ok":     report.OK(),
		"log":    sess.Log,
	})
}

func (s *Server) handleSessionAudit(c *gin.Context) {
	if s.Audit == nil {
		c.JSON(http.StatusNotImplemented, errorBody("not_configured", "audit log requires postgres storage"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	rows, err := s.Audit.Query(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.Profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleGetRecommendation(c *gin.Context) {
	p, err := s.Profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Advisor.Recommend(p, advisor.RecentAccuracy(p)))
}

func (s *Server) handleGetInsights(c *gin.Context) {
	p, err := s.Profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Advisor.Insights(p))
}

// ScenarioSummary is one row of the scenario listing.
type ScenarioSummary struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	Kind         scenario.Kind `json:"kind"`
	ScenarioType string        `json:"scenario_type,omitempty"`
	Difficulty   int           `json:"difficulty"`
}

func (s *Server) handleListScenarios(c *gin.Context) {
	defs, err := s.Scenarios.ListScenarios(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	kind := c.Query("kind")
	difficulty, _ := strconv.Atoi(c.Query("difficulty"))
	out := make([]ScenarioSummary, 0, len(defs))
	for _, d := range defs {
		if kind != "" && !strings.EqualFold(string(d.Kind), kind) {
			continue
		}
		if difficulty > 0 && d.Difficulty != difficulty {
			continue
		}
		out = append(out, ScenarioSummary{
			ID:           d.ID,
			Title:        d.Title,
			Kind:         d.Kind,
			ScenarioType: d.ScenarioType,
			Difficulty:   d.Difficulty,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetScenario(c *gin.Context) {
	def, err := s.Scenarios.GetScenario(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handlePutScenario(c *gin.Context) {
	var def scenario.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if def.ID == "" {
		badRequest(c, "id required")
		return
	}
	def.SortSteps()

	if res := scenario.Validate(&def); !res.OK() {
		s.emit("warn", "scenario.rejected", "", map[string]interface{}{
			"scenario_id": def.ID,
			"errors":      len(res.Errors),
		})
		s.respondInvalid(c, res)
		return
	}
	if err := s.Scenarios.PutScenario(c.Request.Context(), &def); err != nil {
		s.respondError(c, err)
		return
	}
	s.emit("info", "scenario.stored", "", map[string]interface{}{
		"scenario_id": def.ID,
		"kind":        string(def.Kind),
		"difficulty":  def.Difficulty,
	})
	c.JSON(http.StatusCreated, ScenarioSummary{
		ID:           def.ID,
		Title:        def.Title,
		Kind:         def.Kind,
		ScenarioType: def.ScenarioType,
		Difficulty:   def.Difficulty,
	})
}

func (s *Server) handleValidateScenario(c *gin.Context) {
	var def scenario.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid json")
		return
	}
	def.SortSteps()
	res := scenario.Validate(&def)
	if res.Errors == nil {
		res.Errors = []scenario.ValidationError{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": res.OK(), "result": res})
}

type generateRequest struct {
	scenario.GenerateRequest
	// UserID tailors difficulty and focus triggers to the user's profile.
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleGenerateScenario(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	ctx := c.Request.Context()

	gen := req.GenerateRequest
	if gen.ScenarioType == "" {
		gen.ScenarioType = scenario.TypePhishing
	}
	if req.UserID != "" {
		p, err := s.Profiles.Get(ctx, req.UserID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		rec := s.Advisor.Recommend(p, advisor.RecentAccuracy(p))
		gen.Difficulty = rec.NextDifficulty
		if len(gen.FocusTriggers) == 0 {
			gen.FocusTriggers = rec.FocusTriggers
		}
	}

	def, src, err := s.Generator.GenerateWithSource(ctx, gen)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.Scenarios.PutScenario(ctx, def); err != nil {
		s.respondError(c, err)
		return
	}
	s.emit("info", "scenario.generated", "", map[string]interface{}{
		"scenario_id": def.ID,
		"source":      string(src),
		"difficulty":  def.Difficulty,
		"user_id":     req.UserID,
	})
	c.JSON(http.StatusCreated, gin.H{"source": src, "scenario": def})
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if id := c.Query("session_id"); id != "" {
		c.JSON(http.StatusOK, s.Bus.SessionEvents(id, n))
		return
	}
	c.JSON(http.StatusOK, s.Bus.RecentEvents(n))
}

func (s *Server) emit(level, name, msg string, fields map[string]interface{}) {
	if _, err := s.Bus.Emit(level, name, msg, fields); err != nil {
		s.Log.Error("failed to emit event", "event", name, "error", err)
	}
}
