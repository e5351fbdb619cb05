package adapters

import (
	"context"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/shopspring/decimal"
)

func TestStaticOracle_ReturnsCannedResponse(t *testing.T) {
	oracle := &StaticOracle{Response: `{"intent":"demo","steps":[]}`}

	got, err := oracle.Complete(context.Background(), tollgate.OracleRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != oracle.Response {
		t.Errorf("expected canned response, got %q", got)
	}
}

func TestOracleFunc_PassesRequestThrough(t *testing.T) {
	var seen tollgate.OracleRequest
	oracle := OracleFunc(func(ctx context.Context, req tollgate.OracleRequest) (string, error) {
		seen = req
		return "ok", nil
	})

	req := tollgate.OracleRequest{
		Query: "plan something",
		Tools: []tollgate.ToolDigest{{Service: "calc", Name: "add-list", Price: "0.01"}},
	}
	got, err := oracle.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected passthrough response, got %q", got)
	}
	if seen.Query != req.Query || len(seen.Tools) != 1 || seen.Tools[0].Name != "add-list" {
		t.Errorf("request not passed through intact: %+v", seen)
	}
}

func TestGenkitOracleAdapter_NilRegistry(t *testing.T) {
	adapter := NewGenkitOracleAdapter(nil)

	_, err := adapter.Complete(context.Background(), tollgate.OracleRequest{Query: "q"})
	if err == nil {
		t.Fatal("expected error for nil registry, got nil")
	}
	if code := tollgate.ErrorCode(err); code != tollgate.ErrCodeConfiguration {
		t.Errorf("expected configuration error, got %s (%v)", code, err)
	}
}

func TestGenkitSummarizerAdapter_NilFlow(t *testing.T) {
	adapter := NewGenkitSummarizerAdapter(nil)

	_, err := adapter.Summarize(context.Background(), "q", &tollgate.ExecutionReport{})
	if err == nil {
		t.Fatal("expected error for nil flow, got nil")
	}
	if code := tollgate.ErrorCode(err); code != tollgate.ErrCodeConfiguration {
		t.Errorf("expected configuration error, got %s (%v)", code, err)
	}
}

func TestOracleCacheKey_StableAcrossCalls(t *testing.T) {
	adapter := NewGenkitOracleAdapter(nil)
	req := tollgate.OracleRequest{
		Query: "sum the numbers",
		Tools: []tollgate.ToolDigest{{Service: "calc", Name: "add-list", Price: "0.01", Description: "adds"}},
	}

	first := adapter.cacheKey(req)
	second := adapter.cacheKey(req)
	if first != second {
		t.Errorf("cache key not stable: %q vs %q", first, second)
	}

	other := adapter.cacheKey(tollgate.OracleRequest{Query: "different query", Tools: req.Tools})
	if other == first {
		t.Error("distinct queries produced the same cache key")
	}
}

func TestRenderToolLines(t *testing.T) {
	lines := renderToolLines([]tollgate.ToolDigest{
		{Service: "calc", Name: "add-list", Price: "0.01", Description: "Adds a list of numbers."},
		{Service: "util", Name: "echo", Price: "0.02", Description: "Returns its input."},
	})

	if !strings.Contains(lines, "calc::add-list (price 0.01): Adds a list of numbers.") {
		t.Errorf("first tool line missing or malformed:\n%s", lines)
	}
	if !strings.Contains(lines, "util::echo (price 0.02): Returns its input.") {
		t.Errorf("second tool line missing or malformed:\n%s", lines)
	}
	if got := len(strings.Split(lines, "\n")); got != 2 {
		t.Errorf("expected 2 lines, got %d", got)
	}
}

func TestPlainSummarizer_RendersCountsAndFailures(t *testing.T) {
	report := &tollgate.ExecutionReport{
		TotalCost: decimal.RequireFromString("0.05"),
		Results: []tollgate.StepResult{
			{StepIndex: 0, Output: 8.0},
			{StepIndex: 1, Error: "execution failed for tool 'calc::subtract'"},
		},
		Succeeded: 1,
		Failed:    1,
	}

	summary, err := PlainSummarizer{}.Summarize(context.Background(), "do math", report)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"2 step(s)", "1 succeeded", "1 failed", "0.05", "Step 1:"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	if _, err := (PlainSummarizer{}).Summarize(context.Background(), "q", nil); err == nil {
		t.Error("expected error for nil report, got nil")
	}
}
