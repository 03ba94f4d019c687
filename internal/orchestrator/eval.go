package orchestrator

import (
	"fmt"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/scoring"
)

// position places a fresh session at the definition's entry.
func position(def *scenario.Definition, s *model.Session) error {
	switch def.Kind {
	case scenario.KindOrderedSteps:
		first := def.StepAt(0)
		if first == nil {
			return fmt.Errorf("scenario %s has no first step", def.ID)
		}
		s.CurrentStepIndex = 0
		s.CurrentNode = first.ID
	default:
		entry := def.EntryPoint()
		if entry == "" {
			return fmt.Errorf("scenario %s has no single entry point", def.ID)
		}
		s.CurrentNode = entry
	}
	return nil
}

// atTerminal reports whether the session position ends the scenario.
func atTerminal(def *scenario.Definition, s *model.Session) bool {
	if def.Kind == scenario.KindOrderedSteps {
		return def.StepAt(s.CurrentStepIndex) == nil
	}
	n := def.FindNode(s.CurrentNode)
	return n != nil && n.IsTerminal()
}

// evaluate scores one action against the session position and advances s.
// On error s is untouched.
func evaluate(scorer *scoring.Scorer, def *scenario.Definition, s *model.Session, a model.Action) (scoring.Event, model.ActionResult, error) {
	if def.Kind == scenario.KindOrderedSteps {
		return evaluateStep(scorer, def, s, a)
	}
	return evaluateEdge(scorer, def, s, a)
}

func evaluateEdge(scorer *scoring.Scorer, def *scenario.Definition, s *model.Session, a model.Action) (scoring.Event, model.ActionResult, error) {
	node := def.FindNode(s.CurrentNode)
	if node == nil {
		return scoring.Event{}, model.ActionResult{}, fmt.Errorf("session %s positioned at unknown node %s", s.ID, s.CurrentNode)
	}
	edge := node.FindEdge(a.TargetID)
	if edge == nil {
		return scoring.Event{}, model.ActionResult{}, &ActionError{
			SessionID: s.ID,
			Sequence:  a.Sequence,
			Reason:    fmt.Sprintf("%q is not a choice at %s", a.TargetID, node.ID),
		}
	}

	ev := scorer.Score(scoring.Input{
		Correct:             node.CorrectChoice(edge),
		BasePoints:          node.SuccessPointsFor(edge),
		BasePenalty:         node.PenaltyFor(edge),
		ResponseTimeSeconds: a.ResponseTimeSeconds,
		ExpectedTimeSeconds: def.ExpectedTimeFor(node),
		Trigger:             edge.Trigger,
		ActionType:          a.ActionType,
	})

	s.CurrentNode = edge.Target
	count(s, ev.Correct)

	res := model.ActionResult{
		Correct:         ev.Correct,
		FeedbackMessage: edge.Feedback,
		NextNode:        edge.Target,
		SessionComplete: atTerminal(def, s),
	}
	if res.FeedbackMessage == "" {
		res.FeedbackMessage = defaultFeedback(ev.Correct)
	}
	return ev, res, nil
}

func evaluateStep(scorer *scoring.Scorer, def *scenario.Definition, s *model.Session, a model.Action) (scoring.Event, model.ActionResult, error) {
	step := def.StepAt(s.CurrentStepIndex)
	if step == nil {
		return scoring.Event{}, model.ActionResult{}, fmt.Errorf("session %s has no step at index %d", s.ID, s.CurrentStepIndex)
	}

	correct := a.Name() == step.ExpectedAction
	ev := scorer.Score(scoring.Input{
		Correct:             correct,
		BasePoints:          step.SuccessPoints,
		BasePenalty:         step.FailurePenalty,
		ResponseTimeSeconds: a.ResponseTimeSeconds,
		ExpectedTimeSeconds: def.StepExpectedTime(step),
		Trigger:             step.Trigger,
		ActionType:          a.ActionType,
	})
	count(s, correct)

	res := model.ActionResult{Correct: correct}
	if correct {
		s.CurrentStepIndex++
		res.FeedbackMessage = "Correct: " + stepLabel(step)
	} else {
		res.FeedbackMessage = fmt.Sprintf("%q is not the right move here", a.Name())
	}

	if next := def.StepAt(s.CurrentStepIndex); next != nil {
		s.CurrentNode = next.ID
		idx := s.CurrentStepIndex
		res.NextStep = &idx
		res.NextNode = next.ID
	} else {
		s.CurrentNode = ""
		res.SessionComplete = true
	}
	return ev, res, nil
}

func count(s *model.Session, correct bool) {
	if correct {
		s.CorrectCount++
	} else {
		s.IncorrectCount++
	}
}

func stepLabel(step *scenario.Step) string {
	if step.Title != "" {
		return step.Title
	}
	return step.ExpectedAction
}

func defaultFeedback(correct bool) string {
	if correct {
		return "Good call."
	}
	return "That choice played into the attack."
}
