package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteGenerator asks an HTTP content service for a definition. The service
// receives the GenerateRequest as JSON and answers with a Definition.
type RemoteGenerator struct {
	url    string
	client *resty.Client
}

// NewRemoteGenerator creates a generator posting to url.
func NewRemoteGenerator(url string, timeout time.Duration) *RemoteGenerator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteGenerator{
		url: url,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// Generate implements ContentGenerator. The result is not validated here.
func (g *RemoteGenerator) Generate(ctx context.Context, req GenerateRequest) (*Definition, error) {
	var def Definition
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&def).
		Post(g.url)
	if err != nil {
		return nil, fmt.Errorf("content service request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("content service returned %d", resp.StatusCode())
	}
	if def.ID == "" {
		def.ID = fmt.Sprintf("generated.%s.d%d.%d", req.ScenarioType, clampDifficulty(req.Difficulty), time.Now().UnixNano())
	}
	if def.ScenarioType == "" {
		def.ScenarioType = req.ScenarioType
	}
	def.SortSteps()
	return &def, nil
}
