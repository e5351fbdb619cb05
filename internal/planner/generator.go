// Package planner turns user queries into validated, costed plans by
// consulting the planning oracle and checking its output against the
// tool catalog.
package planner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/ZanzyTHEbar/tollgate/pkg/jsonextract"
	"github.com/shopspring/decimal"
)

// Generator implements tollgate.Generator. It builds the oracle request from
// the catalog digest, extracts the single JSON object from the oracle's
// free-text reply, and normalizes the decoded steps.
type Generator struct {
	oracle  tollgate.Oracle
	catalog tollgate.Catalog
	cache   tollgate.Cache
}

// NewGenerator creates a generator. The cache is optional; when present,
// parsed plans are reused for repeated (query, catalog) inputs.
func NewGenerator(oracle tollgate.Oracle, catalog tollgate.Catalog, cache tollgate.Cache) *Generator {
	return &Generator{
		oracle:  oracle,
		catalog: catalog,
		cache:   cache,
	}
}

// wirePlan is the oracle's JSON shape. The totalCost field is advisory and
// deliberately untyped: oracles emit strings, numbers, or nothing there, and
// none of it is trusted.
type wirePlan struct {
	Intent          string          `json:"intent"`
	Steps           []tollgate.Step `json:"steps"`
	TotalCost       interface{}     `json:"totalCost"`
	Reasoning       string          `json:"reasoning"`
	ExpectedOutcome string          `json:"expectedOutcome"`
}

// GeneratePlan implements the tollgate.Generator interface.
func (g *Generator) GeneratePlan(ctx context.Context, query string) (*tollgate.Plan, error) {
	req := g.buildRequest(query)
	cacheKey := g.generateCacheKey(req)

	if g.cache != nil {
		if cached, found := g.cache.Get(ctx, cacheKey); found {
			if plan, ok := cached.(*tollgate.Plan); ok {
				copied := *plan
				return &copied, nil
			}
		}
	}

	raw, err := g.oracle.Complete(ctx, req)
	if err != nil {
		return nil, tollgate.NewPlanGenerationError(err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.cache.Set(ctx, cacheKey, plan)
	}

	copied := *plan
	return &copied, nil
}

// ParsePlan extracts and decodes the plan object from raw oracle text. It
// tolerates code fences and surrounding prose, normalizes prefixed tool
// names, and carries the oracle's advisory total along for the coster to
// audit.
func ParsePlan(raw string) (*tollgate.Plan, error) {
	doc, err := jsonextract.Extract(raw)
	if err != nil {
		return nil, tollgate.NewPlanParseError(snippet(raw), err)
	}

	var wire wirePlan
	if err := json.Unmarshal([]byte(doc), &wire); err != nil {
		return nil, tollgate.NewPlanParseError(snippet(doc), err)
	}
	if len(wire.Steps) == 0 {
		return nil, tollgate.NewPlanParseError("plan carries no steps", nil)
	}

	plan := &tollgate.Plan{
		Intent:          wire.Intent,
		Steps:           make([]tollgate.Step, len(wire.Steps)),
		Reasoning:       wire.Reasoning,
		ExpectedOutcome: wire.ExpectedOutcome,
	}
	for i, step := range wire.Steps {
		plan.Steps[i] = normalizeStep(step)
	}
	if advisory, ok := advisoryCost(wire.TotalCost); ok {
		plan.AdvisoryCost = &advisory
	}
	return plan, nil
}

// normalizeStep strips service prefixes from the tool name. Oracles often
// echo the composite key ("calc::add", sometimes nested) into the tool
// field; everything up to the last "::" is dropped, and a missing service
// field is recovered from the dropped prefix.
func normalizeStep(step tollgate.Step) tollgate.Step {
	if i := strings.LastIndex(step.Tool, "::"); i >= 0 {
		prefix := step.Tool[:i]
		step.Tool = step.Tool[i+2:]
		if step.Service == "" {
			step.Service = prefix
		}
	}
	if step.Params == nil {
		step.Params = map[string]interface{}{}
	}
	return step
}

// advisoryCost attempts to read the untrusted oracle total.
func advisoryCost(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// buildRequest assembles the oracle request from the catalog listing.
func (g *Generator) buildRequest(query string) tollgate.OracleRequest {
	tools := g.catalog.Tools()
	digest := make([]tollgate.ToolDigest, 0, len(tools))
	for _, tool := range tools {
		digest = append(digest, tollgate.ToolDigest{
			Service:     tool.Service,
			Name:        tool.Name,
			Price:       tool.Price.String(),
			Description: tool.Description,
		})
	}
	return tollgate.OracleRequest{Query: query, Tools: digest}
}

// generateCacheKey creates a unique key for caching parsed plans.
func (g *Generator) generateCacheKey(req tollgate.OracleRequest) string {
	inputBytes, err := json.Marshal(req)
	if err != nil {
		log.Printf("planner: failed to marshal oracle request for cache key: %v", err)
		// Fallback to a simpler key if marshalling fails
		return "plan:" + req.Query
	}

	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "plan:" + hex.EncodeToString(hasher.Sum(nil))
}

// snippet truncates raw oracle output for error messages.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 140 {
		return fmt.Sprintf("%.140s...", s)
	}
	if s == "" {
		return "(empty oracle output)"
	}
	return s
}
