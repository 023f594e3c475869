package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nghednh/flowershop-checkout/internal/domain/pricing"
)

// Rules with a recurrence are always candidates; the engine expands their
// windows precisely. Non-recurring rules are pre-filtered by window here.
const activeRulesSQL = `SELECT id, scope, target_id, kind, value_type, value,
		stackable, priority, starts_at, ends_at, recurrence, created_at
	FROM pricing_rules
	WHERE active AND scope = $1 AND target_id = $2
		AND (recurrence <> 'none'
			OR (starts_at <= $3 AND (ends_at IS NULL OR ends_at >= $3)))
	ORDER BY priority DESC, created_at DESC`

var _ pricing.Repository = (*PricingRuleRepository)(nil)

// PricingRuleRepository implements pricing.Repository backed by PostgreSQL.
type PricingRuleRepository struct {
	pool *pgxpool.Pool
}

// NewPricingRuleRepository returns a PricingRuleRepository that uses the
// given pool.
func NewPricingRuleRepository(pool *pgxpool.Pool) *PricingRuleRepository {
	return &PricingRuleRepository{pool: pool}
}

// ActiveRules returns candidate rules for the scope and target at the given
// instant.
func (r *PricingRuleRepository) ActiveRules(ctx context.Context, scope pricing.Scope, targetID string, at time.Time) ([]pricing.Rule, error) {
	rows, err := r.pool.Query(ctx, activeRulesSQL, scope, targetID, at)
	if err != nil {
		return nil, fmt.Errorf("finding rules for %s %q: %w", scope, targetID, err)
	}

	rules, err := pgx.CollectRows(rows, pgx.RowToStructByPos[pricing.Rule])
	if err != nil {
		return nil, fmt.Errorf("finding rules for %s %q: %w", scope, targetID, err)
	}
	return rules, nil
}
