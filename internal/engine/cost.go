package engine

// modelRate is USD per one million tokens.
type modelRate struct {
	In  float64
	Out float64
}

// modelRates is the static per-model rate table. Unrecognized models fall
// back to DefaultModel's rates so cost is never silently zero.
var modelRates = map[string]modelRate{
	"gpt-4o":        {In: 2.50, Out: 10.00},
	"gpt-4o-mini":   {In: 0.15, Out: 0.60},
	"gpt-4.1":       {In: 2.00, Out: 8.00},
	"gpt-4.1-mini":  {In: 0.40, Out: 1.60},
	"o3-mini":       {In: 1.10, Out: 4.40},
	"gpt-3.5-turbo": {In: 0.50, Out: 1.50},
}

// DefaultModel is used when a run doesn't specify a model, and its rates
// back unrecognized models.
const DefaultModel = "gpt-4o-mini"

// Cost computes the USD cost of a run's token usage:
// (inputTokens*rateIn + outputTokens*rateOut) / 1_000_000.
func Cost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := modelRates[model]
	if !ok {
		rate = modelRates[DefaultModel]
	}
	return (float64(inputTokens)*rate.In + float64(outputTokens)*rate.Out) / 1_000_000
}
