package planner

import (
	"testing"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/shopspring/decimal"
)

func TestCost_ExactDecimalSum(t *testing.T) {
	c := NewCoster(testCatalog(t))
	plan := &tollgate.Plan{
		Steps: []tollgate.Step{
			step("calc", "add"),      // 0.01
			step("calc", "multiply"), // 0.02
		},
	}

	total, err := c.Cost(plan)
	if err != nil {
		t.Fatalf("Cost() error = %v", err)
	}
	// 0.01 + 0.02 must be exactly 0.03, not 0.030000000000000002.
	if !total.Equal(decimal.RequireFromString("0.03")) {
		t.Errorf("expected exactly 0.03, got %s", total.String())
	}
	if total.String() != "0.03" {
		t.Errorf("expected canonical rendering 0.03, got %s", total.String())
	}
}

func TestCost_RepeatedToolChargedPerStep(t *testing.T) {
	c := NewCoster(testCatalog(t))
	plan := &tollgate.Plan{
		Steps: []tollgate.Step{
			step("search", "web-search"),
			step("search", "web-search"),
			step("search", "web-search"),
		},
	}

	total, err := c.Cost(plan)
	if err != nil {
		t.Fatalf("Cost() error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("expected 0.3 for three 0.10 invocations, got %s", total.String())
	}
}

func TestCost_AdvisoryDisagreementIsNotAnError(t *testing.T) {
	c := NewCoster(testCatalog(t))
	claimed := decimal.RequireFromString("99.99")
	plan := &tollgate.Plan{
		Steps:        []tollgate.Step{step("calc", "add")},
		AdvisoryCost: &claimed,
	}

	total, err := c.Cost(plan)
	if err != nil {
		t.Fatalf("Cost() error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("computed total must win over the oracle's claim, got %s", total.String())
	}
}

func TestCost_UnknownToolCostsZero(t *testing.T) {
	// The validator owns rejecting unknown tools; costing a pre-validated
	// plan must not re-validate, so an unresolvable step contributes zero.
	c := NewCoster(testCatalog(t))
	plan := &tollgate.Plan{
		Steps: []tollgate.Step{
			step("calc", "add"), // 0.01
			step("calc", "divide"),
		},
	}

	total, err := c.Cost(plan)
	if err != nil {
		t.Fatalf("Cost() error = %v", err)
	}
	if !total.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("expected the unknown tool to cost zero, got total %s", total.String())
	}
}

func TestCost_EmptyPlanIsFree(t *testing.T) {
	c := NewCoster(testCatalog(t))
	total, err := c.Cost(&tollgate.Plan{})
	if err != nil {
		t.Fatalf("Cost() error = %v", err)
	}
	if !total.IsZero() {
		t.Errorf("expected zero total for an empty plan, got %s", total.String())
	}
}
