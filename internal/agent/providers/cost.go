package providers

import "strings"

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

var modelPricing = map[string]price{
	"gemini-3-pro-preview":                {2.0, 12.0},
	"gemini-3-flash-preview":              {0.5, 3.0},
	"gemini-2.5-flash":                    {0.3, 2.5},
	"gemini-2.5-flash-lite-preview-06-17": {0.15, 1.0},
	"gemini-2.5-pro":                      {1.25, 10.0},
	"gemini-2.0-flash-001":                {0.1, 0.4},
	"gemini-2.0-flash-lite-preview-02-05": {0.075, 0.3},

	"grok-4":                      {3.0, 15.0},
	"grok-4-1-fast-reasoning":     {5.0, 25.0},
	"grok-4-1-fast-non-reasoning": {3.0, 15.0},
	"grok-4-fast-reasoning":       {5.0, 25.0},
	"grok-code-fast-1":            {3.0, 15.0},
	"grok-3":                      {3.0, 15.0},
	"grok-3-fast":                 {5.0, 25.0},
	"grok-3-mini":                 {0.3, 0.5},
	"grok-3-mini-fast":            {0.6, 4.0},

	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-haiku-4-5-20251001":  {1.0, 5.0},
	"claude-opus-4-6":            {15.0, 75.0},
	"claude-opus-4-5-20251101":   {15.0, 75.0},
	"claude-opus-4-1-20250805":   {15.0, 75.0},
	"claude-opus-4-20250514":     {15.0, 75.0},
	"claude-3-7-sonnet-20250219": {3.0, 15.0},

	"gpt-5-2025-08-07":      {1.25, 10.0},
	"gpt-5-mini-2025-08-07": {0.4, 1.6},
	"gpt-5.1":               {1.25, 10.0},
	"gpt-5.2":               {1.25, 10.0},
	"gpt-4.1":               {2.0, 8.0},
	"gpt-4.1-mini":          {0.4, 1.6},
	"gpt-4.1-nano":          {0.1, 0.4},
	"o4-mini":               {1.1, 4.4},
	"o3-mini":               {1.1, 4.4},
	"gpt-4o":                {2.5, 10.0},
	"gpt-4o-mini":           {0.15, 0.6},

	"glm-4.7":     {0.6, 2.2},
	"glm-4.6":     {0.6, 2.2},
	"glm-4.5":     {0.6, 2.2},
	"glm-4.5-air": {0.2, 1.2},
}

// Cost prices one call in USD. ok is false for models without a known
// price; the lab proxy's provider prefix is ignored when looking up.
func Cost(model string, inputTokens, outputTokens int) (cost float64, ok bool) {
	p, ok := modelPricing[model]
	if !ok {
		if _, bare, found := strings.Cut(model, ":"); found {
			p, ok = modelPricing[bare]
		}
	}
	if !ok {
		return 0, false
	}
	return p.input/1e6*float64(inputTokens) + p.output/1e6*float64(outputTokens), true
}
