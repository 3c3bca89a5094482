package orchestrator

import "strings"

// Stats are the running counters of one orchestrator instance.
type Stats struct {
	Messages          int     `json:"messages"`
	Turns             int     `json:"turns"`
	ToolCalls         int     `json:"tool_calls"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	CostEstimate      float64 `json:"cost_estimate"`
	AvgLatencyMs      int64   `json:"avg_latency_ms"`

	totalLatencyMs int64
}

// modelRate is a coarse USD price per million tokens. The table exists for
// order-of-magnitude cost display, not billing.
type modelRate struct {
	inputPerM  float64
	outputPerM float64
}

var providerRates = map[string]modelRate{
	"openai":    {inputPerM: 2.50, outputPerM: 10.00},
	"anthropic": {inputPerM: 3.00, outputPerM: 15.00},
	"google":    {inputPerM: 1.25, outputPerM: 5.00},
}

// estimateCost prices a call; unknown providers (local, openai-compatible)
// cost nothing.
func estimateCost(provider string, inputTokens, outputTokens int64) float64 {
	rate, ok := providerRates[strings.ToLower(provider)]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*rate.inputPerM + float64(outputTokens)/1e6*rate.outputPerM
}

func (s *Stats) recordTurn(latencyMs int64, inputTokens, outputTokens int64, toolCalls int, cost float64) {
	s.Turns++
	s.Messages += 2
	s.ToolCalls += toolCalls
	s.TotalInputTokens += inputTokens
	s.TotalOutputTokens += outputTokens
	s.CostEstimate += cost
	s.totalLatencyMs += latencyMs
	s.AvgLatencyMs = s.totalLatencyMs / int64(s.Turns)
}
