package ratelimit

import (
	"testing"
	"time"

	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuleSet(t *testing.T) {
	t.Parallel()

	cfg := config.RateLimitConfig{
		GenerateMonthlyLimit: 10,
		GenerateDailyLimit:   3,
		RefineMonthlyLimit:   30,
		MonthlyWindow:        30 * 24 * time.Hour,
		DailyWindow:          24 * time.Hour,
	}

	rules := NewRuleSet(cfg)

	generation := rules.ForKind(domain.TaskKindGeneration)
	require.Len(t, generation, 2)
	assert.Equal(t, RuleGenerateMonthly, generation[0].Name)
	assert.Equal(t, 10, generation[0].Limit)
	assert.Equal(t, RuleGenerateDaily, generation[1].Name)
	assert.Equal(t, 24*time.Hour, generation[1].Window)

	refinement := rules.ForKind(domain.TaskKindRefinement)
	require.Len(t, refinement, 1)
	assert.Equal(t, RuleRefineMonthly, refinement[0].Name)

	assert.Nil(t, rules.ForKind(domain.TaskKind("upscale")))
}
