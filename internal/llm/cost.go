package llm

// Approximate pricing per 1M tokens, input and output.
var modelCosts = map[string][2]float64{
	"anthropic/claude-3.5-sonnet": {3.0, 15.0},
	"openai/gpt-4":                {30.0, 60.0},
	"openai/gpt-3.5-turbo":        {0.5, 1.5},
}

// EstimateCost returns the approximate USD cost of a completion.
func EstimateCost(model string, usage Usage) float64 {
	costs, ok := modelCosts[model]
	if !ok {
		costs = [2]float64{1.0, 2.0}
	}
	inputCost := float64(usage.PromptTokens) / 1_000_000 * costs[0]
	outputCost := float64(usage.CompletionTokens) / 1_000_000 * costs[1]
	return inputCost + outputCost
}
