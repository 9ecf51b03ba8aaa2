package llm

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/auditforge/api/internal/model"
)

// Gateway selects the analysis strategy for a job: deterministic
// dry-run reports when no credential is configured, the tool-using
// agent when tool servers are available, and a direct model call as
// fallback.
type Gateway struct {
	client           *Client
	agent            *Agent
	dryRun           bool
	fallbackToDirect bool
}

// GatewayConfig controls strategy selection.
type GatewayConfig struct {
	DryRun           bool
	FallbackToDirect bool
}

// NewGateway creates an analysis gateway. agent may be nil when tool
// use is disabled.
func NewGateway(client *Client, agent *Agent, cfg GatewayConfig) *Gateway {
	return &Gateway{
		client:           client,
		agent:            agent,
		dryRun:           cfg.DryRun,
		fallbackToDirect: cfg.FallbackToDirect,
	}
}

// DryRun reports whether the gateway produces synthetic reports.
func (g *Gateway) DryRun() bool {
	return g.dryRun
}

// Analyze produces the audit report for a job and the metrics of the
// analysis that produced it.
func (g *Gateway) Analyze(ctx context.Context, code, auditProfile, jobID string, payload json.RawMessage) (string, *model.Metrics, error) {
	if g.dryRun {
		log.Printf("Generating dry-run report for job %s", jobID)
		report := DryRunReport(payload, jobID)
		return report, &model.Metrics{
			Calls:            1,
			PromptTokens:     len(code) / 4,
			CompletionTokens: len(report) / 4,
			ElapsedSec:       0,
			Model:            "dry_run",
			CostUSD:          0,
		}, nil
	}

	if g.agent != nil {
		report, metrics, err := g.agent.Run(ctx, code, auditProfile, jobID)
		if err == nil {
			return report, metrics, nil
		}
		if !g.fallbackToDirect {
			return "", nil, err
		}
		log.Printf("Agent analysis failed for job %s, falling back to direct call: %v", jobID, err)
	}

	return g.direct(ctx, code, auditProfile, jobID)
}

func (g *Gateway) direct(ctx context.Context, code, auditProfile, jobID string) (string, *model.Metrics, error) {
	log.Printf("Calling model directly for job %s", jobID)
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(code, auditProfile)},
	}

	start := time.Now()
	resp, err := g.client.ChatCompletion(ctx, messages, 0, 0)
	if err != nil {
		return "", nil, err
	}

	metrics := &model.Metrics{
		Calls:            1,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		ElapsedSec:       time.Since(start).Seconds(),
		Model:            g.client.Model(),
		CostUSD:          EstimateCost(g.client.Model(), resp.Usage),
	}
	return resp.Choices[0].Message.Content, metrics, nil
}
