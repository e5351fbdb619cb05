package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/tollgate"
)

// StaticOracle returns a fixed response for every request. It backs demo
// deployments and tests, where a deterministic plan matters more than a live
// model.
type StaticOracle struct {
	Response string
}

// Complete implements the tollgate.Oracle interface.
func (o *StaticOracle) Complete(ctx context.Context, req tollgate.OracleRequest) (string, error) {
	return o.Response, nil
}

// OracleFunc adapts a plain function to the tollgate.Oracle interface.
type OracleFunc func(ctx context.Context, req tollgate.OracleRequest) (string, error)

// Complete implements the tollgate.Oracle interface.
func (f OracleFunc) Complete(ctx context.Context, req tollgate.OracleRequest) (string, error) {
	return f(ctx, req)
}

// SummarizerFunc adapts a plain function to the tollgate.Summarizer interface.
type SummarizerFunc func(ctx context.Context, query string, report *tollgate.ExecutionReport) (string, error)

// Summarize implements the tollgate.Summarizer interface.
func (f SummarizerFunc) Summarize(ctx context.Context, query string, report *tollgate.ExecutionReport) (string, error) {
	return f(ctx, query, report)
}

// PlainSummarizer renders a report into a short human-readable paragraph
// without calling a model. It is the fallback when no summarizer flow is
// configured.
type PlainSummarizer struct{}

// Summarize implements the tollgate.Summarizer interface.
func (PlainSummarizer) Summarize(ctx context.Context, query string, report *tollgate.ExecutionReport) (string, error) {
	if report == nil {
		return "", tollgate.NewSummaryError(fmt.Errorf("nil execution report"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Executed %d step(s) for %q: %d succeeded, %d failed, %d blocked (total cost %s).",
		len(report.Results), query, report.Succeeded, report.Failed, report.Blocked, report.TotalCost.StringFixed(2))
	for _, result := range report.Results {
		if result.Error != "" {
			fmt.Fprintf(&b, " Step %d: %s.", result.StepIndex, result.Error)
		}
	}
	return b.String(), nil
}
