package planner

import (
	"log"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/shopspring/decimal"
)

// Coster implements tollgate.Coster. Totals are exact decimal sums of
// catalog prices; float arithmetic never touches money. The oracle's
// advisory total, when carried on the plan, is audited against the computed
// sum and logged on disagreement, never believed.
type Coster struct {
	catalog tollgate.Catalog
}

// NewCoster creates a coster backed by the given catalog.
func NewCoster(catalog tollgate.Catalog) *Coster {
	return &Coster{catalog: catalog}
}

// Cost implements the tollgate.Coster interface. Each step is priced at its
// catalog entry; steps invoking the same tool are charged once each. Steps
// whose tool is not in the catalog cost zero: the validator owns rejecting
// them, and costing assumes a pre-validated plan.
func (c *Coster) Cost(plan *tollgate.Plan) (decimal.Decimal, error) {
	if plan == nil {
		return decimal.Zero, tollgate.NewCostError("cannot cost a nil plan", nil)
	}
	total := decimal.Zero
	for i, step := range plan.Steps {
		tool, ok := c.catalog.Lookup(step.Service, step.Tool)
		if !ok {
			log.Printf("planner: step %d tool '%s::%s' is not in the catalog (costed zero)", i, step.Service, step.Tool)
			continue
		}
		total = total.Add(tool.Price)
	}
	if plan.AdvisoryCost != nil && !plan.AdvisoryCost.Equal(total) {
		log.Printf("planner: oracle advisory total %s disagrees with computed total %s (computed total wins)", plan.AdvisoryCost, total)
	}
	return total, nil
}
