package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/auditforge/api/internal/model"
	"github.com/auditforge/api/internal/toolserver"
)

// Agent runs a bounded tool-use loop: the model may request analysis
// tools from connected tool servers before producing its final report.
type Agent struct {
	client        *Client
	manager       *toolserver.Manager
	maxIterations int
}

// NewAgent creates an audit agent backed by the given client and tool
// server manager.
func NewAgent(client *Client, manager *toolserver.Manager, maxIterations int) *Agent {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &Agent{
		client:        client,
		manager:       manager,
		maxIterations: maxIterations,
	}
}

// toolDirective is the JSON shape the model uses to request a tool call.
type toolDirective struct {
	Tool      string         `json:"tool"`
	Server    string         `json:"server,omitempty"`
	Arguments map[string]any `json:"arguments"`
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nYou have access to the following analysis tools:\n")
	for _, t := range a.manager.Tools() {
		fmt.Fprintf(&b, "- %s (server: %s): %s\n", t.Name, t.Server, t.Description)
	}
	b.WriteString("\nTo call a tool, reply with ONLY a JSON object of the form ")
	b.WriteString(`{"tool": "<name>", "arguments": {...}}`)
	b.WriteString(" and nothing else. When you have gathered enough evidence, reply with the final audit report as plain text.")
	return b.String()
}

// parseDirective recognizes a tool-call reply. Fenced code blocks
// around the JSON are tolerated.
func parseDirective(content string) (*toolDirective, bool) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var d toolDirective
	if err := json.Unmarshal([]byte(s), &d); err != nil || d.Tool == "" {
		return nil, false
	}
	return &d, true
}

// Run drives the agent loop for one audit job and returns the final
// report with its usage metrics.
func (a *Agent) Run(ctx context.Context, code, auditProfile, jobID string) (string, *model.Metrics, error) {
	if a.manager.ConnectedCount() == 0 {
		return "", nil, fmt.Errorf("no tool servers connected")
	}

	messages := []ChatMessage{
		{Role: "system", Content: a.systemPrompt()},
		{Role: "user", Content: BuildPrompt(code, auditProfile)},
	}

	start := time.Now()
	metrics := &model.Metrics{Model: a.client.Model()}
	var toolsUsed []string

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		resp, err := a.client.ChatCompletion(ctx, messages, 0, 0)
		if err != nil {
			return "", nil, err
		}
		metrics.Calls++
		metrics.PromptTokens += resp.Usage.PromptTokens
		metrics.CompletionTokens += resp.Usage.CompletionTokens
		metrics.CostUSD += EstimateCost(a.client.Model(), resp.Usage)

		content := resp.Choices[0].Message.Content
		directive, ok := parseDirective(content)
		if !ok {
			metrics.Iterations = iteration + 1
			metrics.ToolsUsed = toolsUsed
			metrics.ElapsedSec = time.Since(start).Seconds()
			return content, metrics, nil
		}

		log.Printf("Agent calling tool %s for job %s (iteration %d)", directive.Tool, jobID, iteration+1)
		result, err := a.manager.CallTool(ctx, directive.Tool, directive.Arguments, directive.Server)
		toolsUsed = append(toolsUsed, directive.Tool)

		var observation string
		if err != nil {
			observation = fmt.Sprintf("Tool %s failed: %v", directive.Tool, err)
		} else if result.IsError {
			observation = fmt.Sprintf("Tool %s returned an error:\n%s", directive.Tool, result.Text())
		} else {
			observation = fmt.Sprintf("Tool %s returned:\n%s", directive.Tool, result.Text())
		}

		messages = append(messages,
			ChatMessage{Role: "assistant", Content: content},
			ChatMessage{Role: "user", Content: observation},
		)
	}

	return "", nil, fmt.Errorf("agent exceeded %d iterations without producing a report", a.maxIterations)
}
