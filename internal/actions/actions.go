// Package actions maps triggered findings to concrete remediation steps.
package actions

import (
	"fmt"
	"sort"

	"htdiag/internal/rules"
)

// Tier grades an action's estimated impact or its risk of regressing other
// workloads.
type Tier int

const (
	Low Tier = iota
	Medium
	High
)

func (t Tier) String() string {
	switch t {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", t.String())), nil
}

// Kind buckets actions by the surface they change.
const (
	KindIndexChange        = "index-change"
	KindQueryRewrite       = "query-rewrite"
	KindEngineChoice       = "engine-choice"
	KindWarehouseSizing    = "warehouse-sizing"
	KindWorkloadManagement = "workload-management"
)

type Action struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	SuggestedChange string `json:"suggestedChange"`
	EstimatedImpact Tier   `json:"estimatedImpact"`
	RiskLevel       Tier   `json:"riskLevel"`
}

// mapping is the closed finding-to-action table. Several findings may share
// one action; the action is emitted once.
var mapping = []struct {
	action Action
	rules  []string
}{
	{
		action: Action{
			ID:              "ADD_SUPPORTING_INDEX",
			Kind:            KindIndexChange,
			SuggestedChange: "create a secondary index whose leading column matches the query's equality predicate",
			EstimatedImpact: High,
			RiskLevel:       Medium,
		},
		rules: []string{"INDEX_EXPECTED_NOT_USED", "SPECIALIZED_PATH_UNUSED"},
	},
	{
		action: Action{
			ID:              "USE_BOUND_PARAMETERS",
			Kind:            KindQueryRewrite,
			SuggestedChange: "replace embedded literals with bind parameters so compiled plans are reused",
			EstimatedImpact: Medium,
			RiskLevel:       Low,
		},
		rules: []string{"NO_BOUND_PARAMETERS", "SLOW_COMPILATION"},
	},
	{
		action: Action{
			ID:              "ADD_LIMIT_TO_SORT",
			Kind:            KindQueryRewrite,
			SuggestedChange: "bound the ORDER BY with a LIMIT or FETCH FIRST clause",
			EstimatedImpact: Medium,
			RiskLevel:       Low,
		},
		rules: []string{"FULL_SORT_NO_LIMIT"},
	},
	{
		action: Action{
			ID:              "ADD_WHERE_FILTER",
			Kind:            KindQueryRewrite,
			SuggestedChange: "add a narrowing predicate so the engine reads only the rows the query needs",
			EstimatedImpact: High,
			RiskLevel:       Medium,
		},
		rules: []string{"NO_WHERE_FILTER"},
	},
	{
		action: Action{
			ID:              "ROUTE_TO_COLUMNAR",
			Kind:            KindEngineChoice,
			SuggestedChange: "run this statement against columnar storage; its shape is analytic, not transactional",
			EstimatedImpact: High,
			RiskLevel:       Medium,
		},
		rules: []string{"ANALYTIC_STORE_FALLBACK", "WIDE_INDEX_RANGE_SCAN"},
	},
	{
		action: Action{
			ID:              "INLINE_CTE",
			Kind:            KindQueryRewrite,
			SuggestedChange: "inline the common table expression into the main query body",
			EstimatedImpact: Medium,
			RiskLevel:       Medium,
		},
		rules: []string{"CTE_JOIN_BLOCKS_FK"},
	},
	{
		action: Action{
			ID:              "DOWNSIZE_WAREHOUSE",
			Kind:            KindWarehouseSizing,
			SuggestedChange: "move this point-lookup workload to the smallest warehouse tier",
			EstimatedImpact: Low,
			RiskLevel:       Low,
		},
		rules: []string{"OVERSIZED_WAREHOUSE"},
	},
	{
		action: Action{
			ID:              "UNNEST_ROUTINE_SQL",
			Kind:            KindQueryRewrite,
			SuggestedChange: "lift the table access out of the routine so it is visible to statement telemetry",
			EstimatedImpact: Medium,
			RiskLevel:       High,
		},
		rules: []string{"ROUTINE_MASKS_TABLE_ACCESS"},
	},
	{
		action: Action{
			ID:              "REBALANCE_SCAN_RANGES",
			Kind:            KindWorkloadManagement,
			SuggestedChange: "redistribute hot key ranges so scan work spreads across workers",
			EstimatedImpact: Low,
			RiskLevel:       Medium,
		},
		rules: []string{"SCAN_SKEW"},
	},
}

// ForFindings returns the deduplicated actions for a finding set, ordered by
// risk ascending, then impact descending, then id.
func ForFindings(findings []rules.Finding) []Action {
	triggered := make(map[string]bool, len(findings))
	for _, f := range findings {
		triggered[f.Rule] = true
	}

	seen := make(map[string]bool)
	var out []Action
	for _, m := range mapping {
		if seen[m.action.ID] {
			continue
		}
		for _, rule := range m.rules {
			if triggered[rule] {
				seen[m.action.ID] = true
				out = append(out, m.action)
				break
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskLevel != out[j].RiskLevel {
			return out[i].RiskLevel < out[j].RiskLevel
		}
		if out[i].EstimatedImpact != out[j].EstimatedImpact {
			return out[i].EstimatedImpact > out[j].EstimatedImpact
		}
		return out[i].ID < out[j].ID
	})
	return out
}
