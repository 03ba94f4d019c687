package scenario

import (
	"context"
	"fmt"
	"sync"
)

// GenerateRequest asks a content generator for a scenario tailored to a user.
type GenerateRequest struct {
	ScenarioType  string    `json:"scenario_type"`
	Difficulty    int       `json:"difficulty"`
	FocusTriggers []Trigger `json:"focus_triggers,omitempty"`
}

// ContentGenerator produces scenario definitions. Implementations are
// external (AI services, authoring tools) and their output is untrusted.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Definition, error)
}

// GeneratorFunc adapts a function to ContentGenerator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*Definition, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*Definition, error) {
	return f(ctx, req)
}

// TemplateGenerator serves the static template library.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, req GenerateRequest) (*Definition, error) {
	return Template(req.ScenarioType, req.Difficulty, req.FocusTriggers), nil
}

// Source records where a FallbackGenerator answer came from.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceCache    Source = "cache"
	SourceTemplate Source = "template"
)

type cacheKey struct {
	scenarioType string
	difficulty   int
}

// FallbackGenerator wraps a primary generator. Generated content is validated
// before use; on error or invalid output the last good definition for the same
// (type, difficulty) is served, then the static template.
type FallbackGenerator struct {
	primary ContentGenerator

	mu       sync.RWMutex
	lastGood map[cacheKey]*Definition

	// OnFallback is called with the reason whenever primary output is not used.
	OnFallback func(req GenerateRequest, src Source, reason error)
}

// NewFallbackGenerator creates a generator over primary. A nil primary always
// serves templates.
func NewFallbackGenerator(primary ContentGenerator) *FallbackGenerator {
	return &FallbackGenerator{
		primary:  primary,
		lastGood: make(map[cacheKey]*Definition),
	}
}

// Generate implements ContentGenerator.
func (g *FallbackGenerator) Generate(ctx context.Context, req GenerateRequest) (*Definition, error) {
	def, _, err := g.GenerateWithSource(ctx, req)
	return def, err
}

// GenerateWithSource is Generate plus the origin of the returned definition.
func (g *FallbackGenerator) GenerateWithSource(ctx context.Context, req GenerateRequest) (*Definition, Source, error) {
	key := cacheKey{scenarioType: req.ScenarioType, difficulty: clampDifficulty(req.Difficulty)}

	var reason error
	if g.primary == nil {
		reason = fmt.Errorf("no primary generator configured")
	} else {
		def, err := g.primary.Generate(ctx, req)
		switch {
		case err != nil:
			reason = fmt.Errorf("primary generator failed: %w", err)
		case def == nil:
			reason = fmt.Errorf("primary generator returned no definition")
		default:
			if verr := Validate(def).Err(); verr != nil {
				reason = verr
			} else {
				g.mu.Lock()
				g.lastGood[key] = def
				g.mu.Unlock()
				return def, SourcePrimary, nil
			}
		}
	}

	g.mu.RLock()
	cached := g.lastGood[key]
	g.mu.RUnlock()
	if cached != nil {
		g.fallback(req, SourceCache, reason)
		return cached, SourceCache, nil
	}

	tmpl := Template(req.ScenarioType, req.Difficulty, req.FocusTriggers)
	if verr := Validate(tmpl).Err(); verr != nil {
		return nil, "", fmt.Errorf("template for %s is invalid: %w", req.ScenarioType, verr)
	}
	g.fallback(req, SourceTemplate, reason)
	return tmpl, SourceTemplate, nil
}

func (g *FallbackGenerator) fallback(req GenerateRequest, src Source, reason error) {
	if g.OnFallback != nil {
		g.OnFallback(req, src, reason)
	}
}
