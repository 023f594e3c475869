package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote is the outcome of resolving a price at an instant.
type Quote struct {
	EffectivePrice decimal.Decimal
	// AppliedRule is the winning rule, or the highest-priority rule of a
	// stackable chain. Nil when no rule matched.
	AppliedRule *Rule
}

// Subject identifies the product a cart line refers to, for matching
// product- and category-scoped rules.
type Subject struct {
	ProductID string
	Category  string
}

// Engine resolves effective prices from the active rule set. Evaluation is a
// pure function of (rule set, instant): the engine never mutates rules, and
// re-evaluating at a later instant may legitimately yield a different price.
type Engine struct {
	rules Repository
}

// NewEngine creates an Engine backed by the given rule repository.
func NewEngine(rules Repository) *Engine {
	return &Engine{rules: rules}
}

// ResolveLinePrice resolves the effective unit price for a product at the
// given instant. Product-scoped and category-scoped rules both participate.
func (e *Engine) ResolveLinePrice(ctx context.Context, subject Subject, basePrice decimal.Decimal, at time.Time) (Quote, error) {
	matched, err := e.rules.ActiveRules(ctx, ScopeProduct, subject.ProductID, at)
	if err != nil {
		return Quote{}, errors.Wrap(err, "product rules")
	}

	if subject.Category != "" {
		catRules, err := e.rules.ActiveRules(ctx, ScopeCategory, subject.Category, at)
		if err != nil {
			return Quote{}, errors.Wrap(err, "category rules")
		}
		matched = append(matched, catRules...)
	}

	return resolve(matched, basePrice, at)
}

// ResolveCartAdjustment resolves cart-scoped rules against the summed line
// total and returns the adjusted total.
func (e *Engine) ResolveCartAdjustment(ctx context.Context, linesTotal decimal.Decimal, at time.Time) (Quote, error) {
	matched, err := e.rules.ActiveRules(ctx, ScopeCart, "", at)
	if err != nil {
		return Quote{}, errors.Wrap(err, "cart rules")
	}

	return resolve(matched, linesTotal, at)
}

// resolve applies the selection semantics to a candidate rule set:
//
//   - no active rules: price unchanged, no applied rule;
//   - non-stackable rules compete, the winner (priority desc, then creation
//     desc) adjusts the base price directly;
//   - stackable rules then apply in priority order, each on the running price.
//
// Discounts are floored at zero; surcharges may push the price above base.
func resolve(candidates []Rule, basePrice decimal.Decimal, at time.Time) (Quote, error) {
	active := candidates[:0]
	for _, r := range candidates {
		if r.ActiveAt(at) {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return Quote{EffectivePrice: basePrice}, nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	var (
		winner    *Rule
		stackable []Rule
	)
	for i := range active {
		if active[i].Stackable {
			stackable = append(stackable, active[i])
			continue
		}
		if winner == nil {
			winner = &active[i]
			continue
		}
		// Exact tie between non-stackable rules is a data-integrity error:
		// rule IDs are unique, so identical (priority, created_at) pairs
		// should not occur.
		if winner.Priority == active[i].Priority && winner.CreatedAt.Equal(active[i].CreatedAt) {
			return Quote{}, errors.Wrapf(ErrRuleConflict,
				"rules %s and %s tie on priority %d", winner.ID, active[i].ID, winner.Priority)
		}
	}

	price := basePrice
	applied := winner
	if winner != nil {
		// Percent adjustments compute on the base price, not compounded.
		price = adjust(price, basePrice, *winner)
	}
	for i, r := range stackable {
		if applied == nil && i == 0 {
			applied = &stackable[0]
		}
		// Stackable rules operate on the running price.
		price = adjust(price, price, r)
	}

	if price.IsNegative() {
		price = decimal.Zero
	}

	return Quote{EffectivePrice: price, AppliedRule: applied}, nil
}

// adjust applies a single rule. percentBase is the price percent values are
// computed against; for the non-stackable winner that is the original base.
func adjust(price, percentBase decimal.Decimal, r Rule) decimal.Decimal {
	var delta decimal.Decimal
	switch r.ValueType {
	case ValuePercent:
		delta = percentBase.Mul(r.Value).Div(hundred)
	case ValueAbsolute:
		delta = r.Value
	default:
		return price
	}

	if r.Kind == KindSurcharge {
		return price.Add(delta)
	}
	return price.Sub(delta)
}
