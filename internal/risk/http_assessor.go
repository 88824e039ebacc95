package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAssessor delegates scoring to an external risk service over JSON.
type HTTPAssessor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPAssessor(endpoint string, client *http.Client) *HTTPAssessor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAssessor{endpoint: strings.TrimSpace(endpoint), client: client}
}

type httpAssessRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	CodeChanges string         `json:"code_changes"`
	Scope       string         `json:"scope"`
	Config      map[string]any `json:"config"`
}

type httpAssessResponse struct {
	RiskScore      *float64 `json:"risk_score"`
	AIReasoning    string   `json:"ai_reasoning"`
	DetectedIssues []string `json:"detected_issues"`
	Recommendation string   `json:"recommendation"`
}

func (a *HTTPAssessor) Assess(ctx context.Context, in Input) (Assessment, error) {
	if a.endpoint == "" {
		return Assessment{}, fmt.Errorf("risk assessor endpoint is empty")
	}
	payload, err := json.Marshal(httpAssessRequest{
		Name:        in.Name,
		Description: in.Description,
		CodeChanges: in.CodeChanges,
		Scope:       in.Scope,
		Config:      map[string]any{"rollout_percentage": in.RolloutPercentage},
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("encode assess request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Assessment{}, fmt.Errorf("build assess request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("call risk assessor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Assessment{}, fmt.Errorf("risk assessor returned status %d", resp.StatusCode)
	}
	var out httpAssessResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Assessment{}, fmt.Errorf("decode assess response: %w", err)
	}
	if out.RiskScore == nil {
		return Assessment{}, fmt.Errorf("assess response missing risk_score")
	}
	return Assessment{
		Score:          *out.RiskScore,
		Reasoning:      out.AIReasoning,
		DetectedIssues: out.DetectedIssues,
		Recommendation: out.Recommendation,
		Source:         SourceHTTP,
	}, nil
}
