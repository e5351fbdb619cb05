package adapters

import (
	"context"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/firebase/genkit/go/core"
)

// SummarizerInput is the expected input structure for the summarizer flow.
type SummarizerInput struct {
	Query  string                    `json:"query"`
	Report *tollgate.ExecutionReport `json:"report"`
}

// GenkitSummarizerAdapter uses a Genkit Flow to implement the Summarizer
// interface.
type GenkitSummarizerAdapter struct {
	summarizerFlow *core.Flow[*SummarizerInput, string, struct{}]
}

// NewGenkitSummarizerAdapter creates a new adapter for the summarizer flow.
func NewGenkitSummarizerAdapter(flow *core.Flow[*SummarizerInput, string, struct{}]) *GenkitSummarizerAdapter {
	return &GenkitSummarizerAdapter{summarizerFlow: flow}
}

// Summarize implements the tollgate.Summarizer interface.
func (a *GenkitSummarizerAdapter) Summarize(ctx context.Context, query string, report *tollgate.ExecutionReport) (string, error) {
	if a.summarizerFlow == nil {
		return "", tollgate.NewConfigurationError("summarizer flow is not configured", nil)
	}

	input := SummarizerInput{
		Query:  query,
		Report: report,
	}

	summary, err := a.summarizerFlow.Run(ctx, &input)
	if err != nil {
		return "", tollgate.NewSummaryError(err)
	}

	return summary, nil
}
