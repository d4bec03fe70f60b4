package ratelimit

import (
	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/studioforge/forge-api/internal/store"
)

// Rule names used by the admission rules. Counter rows are keyed on these,
// so renaming one orphans existing windows.
const (
	RuleGenerateMonthly = "generate_monthly"
	RuleGenerateDaily   = "generate_daily"
	RuleRefineMonthly   = "refine_monthly"
)

// RuleSet maps each task kind to the admission rules it must pass.
// Generation is charged against two rules at once, which is what makes the
// per-charge refund bookkeeping necessary.
type RuleSet struct {
	generation []store.RuleSpec
	refinement []store.RuleSpec
}

// NewRuleSet builds the admission rules from configuration.
func NewRuleSet(cfg config.RateLimitConfig) *RuleSet {
	return &RuleSet{
		generation: []store.RuleSpec{
			{Name: RuleGenerateMonthly, Limit: cfg.GenerateMonthlyLimit, Window: cfg.MonthlyWindow},
			{Name: RuleGenerateDaily, Limit: cfg.GenerateDailyLimit, Window: cfg.DailyWindow},
		},
		refinement: []store.RuleSpec{
			{Name: RuleRefineMonthly, Limit: cfg.RefineMonthlyLimit, Window: cfg.MonthlyWindow},
		},
	}
}

// ForKind returns the rules applicable to the given task kind.
func (r *RuleSet) ForKind(kind domain.TaskKind) []store.RuleSpec {
	switch kind {
	case domain.TaskKindGeneration:
		return r.generation
	case domain.TaskKindRefinement:
		return r.refinement
	default:
		return nil
	}
}
