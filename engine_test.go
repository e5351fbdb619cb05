package tollgate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/ZanzyTHEbar/tollgate/internal/adapters"
	"github.com/ZanzyTHEbar/tollgate/internal/catalog"
	"github.com/ZanzyTHEbar/tollgate/internal/composer"
	"github.com/ZanzyTHEbar/tollgate/internal/invoker"
	"github.com/ZanzyTHEbar/tollgate/internal/paygate"
	"github.com/ZanzyTHEbar/tollgate/internal/planner"
	"github.com/ZanzyTHEbar/tollgate/internal/toolsvc"
)

const planResponse = "Here is a minimal plan that stays within budget.\n" +
	"```json\n" +
	`{
  "intent": "sum, adjust, and echo",
  "steps": [
    {"mcp": "calc", "tool": "add-list", "params": {"values": [2, 3]}, "reason": "sum the inputs", "dependsOn": []},
    {"mcp": "calc", "tool": "subtract", "params": {"a": {"source": {"taskId": "0", "field": "0"}, "type": "number"}, "b": 1.5}, "reason": "apply the adjustment", "dependsOn": [0]},
    {"mcp": "util", "tool": "echo", "params": {"note": {"expression": "$1 * 2"}}, "reason": "publish the doubled result", "dependsOn": [1]}
  ],
  "reasoning": "three dependent arithmetic steps cover the request"
}` + "\n```\nTotal comes to $0.05."

// testStack wires the full production component set against an in-process
// tool service.
type testStack struct {
	engine *tollgate.Engine
	calls  *atomic.Int32
	server *httptest.Server
}

func newTestStack(t *testing.T, oracleResponse string, window time.Duration, options ...tollgate.Option) *testStack {
	t.Helper()

	var calls atomic.Int32
	service := toolsvc.Demo()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		service.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	cat := catalog.New()
	for _, tool := range []tollgate.Tool{
		{Service: "calc", Name: "add-list", Endpoint: server.URL, Price: decimal.RequireFromString("0.01"), Description: "sum a list of numbers"},
		{Service: "calc", Name: "subtract", Endpoint: server.URL, Price: decimal.RequireFromString("0.02"), Description: "subtract b from a"},
		{Service: "util", Name: "echo", Endpoint: server.URL, Price: decimal.RequireFromString("0.02"), Description: "echo the given params"},
	} {
		if err := cat.Register(tool); err != nil {
			t.Fatalf("catalog registration failed: %v", err)
		}
	}

	oracle := &adapters.StaticOracle{Response: oracleResponse}
	generator := planner.NewGenerator(oracle, cat, nil)
	validator := planner.NewValidator(cat)
	coster := planner.NewCoster(cat)
	remote := invoker.New(invoker.WithInitialBackoff(time.Millisecond))
	executor := composer.New(remote, cat, composer.WithMaxParallel(2))

	base := []tollgate.Option{
		tollgate.WithGenerator(generator),
		tollgate.WithValidator(validator),
		tollgate.WithCoster(coster),
		tollgate.WithExecutor(executor),
		tollgate.WithGateFactory(paygate.Factory(paygate.WithWindow(window))),
		tollgate.WithSummarizer(&adapters.PlainSummarizer{}),
		tollgate.WithConfig(tollgate.Config{MaxSteps: 20, EnableSummary: true}),
	}
	engine, err := tollgate.New(append(base, options...)...)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	return &testStack{engine: engine, calls: &calls, server: server}
}

func settle(ctx context.Context, plan *tollgate.Plan) (tollgate.PaymentProof, error) {
	return tollgate.PaymentProof{
		TransactionReference: "txn-e2e",
		Amount:               plan.TotalCost,
		Payer:                "integration-test",
	}, nil
}

func TestEngine_EndToEnd_PaidExecution(t *testing.T) {
	stack := newTestStack(t, planResponse, time.Minute, tollgate.WithPaymentFunc(settle))

	report, err := stack.engine.Process(context.Background(), "sum 2 and 3, subtract 1.5, then double it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.State != tollgate.StateCompleted {
		t.Fatalf("expected state %s, got %s (errors: %v)", tollgate.StateCompleted, report.State, report.Errors)
	}
	if !report.TotalCost.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected total cost 0.05, got %s", report.TotalCost)
	}
	if report.Succeeded != 3 || report.Failed != 0 || report.Blocked != 0 {
		t.Fatalf("unexpected counts: succeeded=%d failed=%d blocked=%d", report.Succeeded, report.Failed, report.Blocked)
	}

	if got, ok := report.Results[0].Output.(float64); !ok || got != 5.0 {
		t.Errorf("expected step 0 output 5, got %v", report.Results[0].Output)
	}
	if got, ok := report.Results[1].Output.(float64); !ok || got != 3.5 {
		t.Errorf("expected step 1 output 3.5, got %v", report.Results[1].Output)
	}
	echoed, ok := report.Results[2].Output.(map[string]interface{})
	if !ok {
		t.Fatalf("expected step 2 to echo a params object, got %T", report.Results[2].Output)
	}
	if got, ok := echoed["note"].(float64); !ok || got != 7.0 {
		t.Errorf("expected doubled note 7, got %v", echoed["note"])
	}

	if report.Summary == "" || !strings.Contains(report.Summary, "0.05") {
		t.Errorf("expected summary mentioning the total cost, got %q", report.Summary)
	}
	if got := stack.calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 remote invocations, got %d", got)
	}
}

func TestEngine_EndToEnd_AsyncPaymentLifecycle(t *testing.T) {
	stack := newTestStack(t, planResponse, time.Minute)
	engine := stack.engine

	executionID, err := engine.Submit(context.Background(), "sum 2 and 3, subtract 1.5, then double it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var status *tollgate.ExecutionStatus
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err = engine.Status(executionID)
		if err != nil {
			t.Fatalf("status lookup failed: %v", err)
		}
		if status.State == tollgate.StateAwaitingPayment || status.IsTerminal {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status == nil || status.State != tollgate.StateAwaitingPayment {
		t.Fatalf("expected execution to await payment, got %+v", status)
	}
	if status.AmountDue != "0.05" {
		t.Errorf("expected amount due 0.05, got %q", status.AmountDue)
	}

	// An underpaying proof is rejected and leaves the gate open.
	err = engine.SubmitPayment(executionID, tollgate.PaymentProof{
		TransactionReference: "txn-short",
		Amount:               decimal.RequireFromString("0.04"),
		Payer:                "integration-test",
	})
	if tollgate.ErrorCode(err) != tollgate.ErrCodeAmountMismatch {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
	if got := stack.calls.Load(); got != 0 {
		t.Fatalf("no tool must run before payment, got %d calls", got)
	}

	err = engine.SubmitPayment(executionID, tollgate.PaymentProof{
		TransactionReference: "txn-exact",
		Amount:               decimal.RequireFromString("0.05"),
		Payer:                "integration-test",
	})
	if err != nil {
		t.Fatalf("exact payment rejected: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err = engine.Status(executionID)
		if err != nil {
			t.Fatalf("status lookup failed: %v", err)
		}
		if status.IsTerminal {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !status.IsTerminal {
		t.Fatal("timed out waiting for the execution to finish")
	}

	report, err := engine.Result(executionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.State != tollgate.StateCompleted {
		t.Fatalf("expected state %s, got %s (errors: %v)", tollgate.StateCompleted, report.State, report.Errors)
	}
	if got := stack.calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 remote invocations, got %d", got)
	}
}

func TestEngine_EndToEnd_UnpaidPlanExpires(t *testing.T) {
	stack := newTestStack(t, planResponse, 30*time.Millisecond)

	report, err := stack.engine.Process(context.Background(), "never settled")
	if err == nil {
		t.Fatal("expected expiry error, got nil")
	}
	if tollgate.ErrorCode(err) != tollgate.ErrCodeGateExpired {
		t.Errorf("expected code %s, got %s", tollgate.ErrCodeGateExpired, tollgate.ErrorCode(err))
	}
	if report.State != tollgate.StateExpired {
		t.Errorf("expected state %s, got %s", tollgate.StateExpired, report.State)
	}
	if got := stack.calls.Load(); got != 0 {
		t.Errorf("no tool must run for an unpaid plan, got %d calls", got)
	}
}

func TestEngine_EndToEnd_ValidationAccumulatesAllErrors(t *testing.T) {
	defective := "```json\n" +
		`{
  "intent": "doomed",
  "steps": [
    {"mcp": "calc", "tool": "divide", "params": {"a": 1, "b": 2}, "reason": "no such tool", "dependsOn": []},
    {"mcp": "calc", "tool": "add-list", "params": {"values": [1]}, "reason": "bad dependency", "dependsOn": [5]}
  ]
}` + "\n```"
	stack := newTestStack(t, defective, time.Minute, tollgate.WithPaymentFunc(settle))

	report, err := stack.engine.Process(context.Background(), "run a broken plan")
	if err == nil {
		t.Fatal("expected validation failure, got nil")
	}
	if tollgate.ErrorCode(err) != tollgate.ErrCodeValidation {
		t.Errorf("expected code %s, got %s", tollgate.ErrCodeValidation, tollgate.ErrorCode(err))
	}
	if report.State != tollgate.StateFailed {
		t.Errorf("expected state %s, got %s", tollgate.StateFailed, report.State)
	}
	if len(report.Errors) < 2 {
		t.Fatalf("expected every defect reported at once, got %v", report.Errors)
	}
	joined := strings.Join(report.Errors, "\n")
	if !strings.Contains(joined, "divide") {
		t.Errorf("expected an unknown-tool error naming divide, got %v", report.Errors)
	}
	if !strings.Contains(joined, "5") {
		t.Errorf("expected an out-of-range dependency error naming index 5, got %v", report.Errors)
	}
	if got := stack.calls.Load(); got != 0 {
		t.Errorf("no tool must run for an invalid plan, got %d calls", got)
	}
}
