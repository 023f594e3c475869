package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scope identifies what a pricing rule applies to.
type Scope string

const (
	// ScopeProduct targets a single product by ID.
	ScopeProduct Scope = "product"
	// ScopeCategory targets every product in a category.
	ScopeCategory Scope = "category"
	// ScopeCart targets the whole cart subtotal.
	ScopeCart Scope = "cart"
)

// Kind distinguishes price reductions from price increases.
type Kind string

const (
	KindDiscount  Kind = "discount"
	KindSurcharge Kind = "surcharge"
)

// ValueType determines how a rule's value is interpreted.
type ValueType string

const (
	// ValuePercent adjusts by value% of the price being adjusted.
	ValuePercent ValueType = "percent"
	// ValueAbsolute adjusts by a fixed currency amount.
	ValueAbsolute ValueType = "absolute"
)

// Recurrence repeats a rule's active window beyond its literal start/end.
type Recurrence string

const (
	RecurNone Recurrence = "none"
	// RecurDaily re-activates the window's time-of-day span every day.
	RecurDaily Recurrence = "daily"
	// RecurWeekly re-activates the window's weekday and time-of-day span every week.
	RecurWeekly Recurrence = "weekly"
)

// ErrRuleConflict is returned when two non-stackable rules tie on both
// priority and creation time. This indicates corrupted rule data and is
// fatal to the evaluation, never retried.
var ErrRuleConflict = errors.New("pricing rule conflict")

// Rule is a time-windowed price adjustment. Rules are immutable during
// evaluation; the engine never writes back to them.
type Rule struct {
	ID         string
	Scope      Scope
	TargetID   string // product ID or category name; empty for cart scope
	Kind       Kind
	ValueType  ValueType
	Value      decimal.Decimal
	Stackable  bool
	Priority   int
	StartsAt   time.Time
	EndsAt     *time.Time // nil means open-ended
	Recurrence Recurrence
	CreatedAt  time.Time
}

// ActiveAt reports whether the rule's window contains the given instant,
// expanding daily/weekly recurrence from the window's time-of-day span.
func (r Rule) ActiveAt(at time.Time) bool {
	switch r.Recurrence {
	case RecurDaily:
		return r.containsClock(at, false)
	case RecurWeekly:
		return r.containsClock(at, true)
	default:
		if at.Before(r.StartsAt) {
			return false
		}
		return r.EndsAt == nil || !at.After(*r.EndsAt)
	}
}

// containsClock checks recurring windows. The span is taken from the
// time-of-day of StartsAt/EndsAt; a rule with no end recurs for the rest
// of the day (or week) from its start clock.
func (r Rule) containsClock(at time.Time, matchWeekday bool) bool {
	if at.Before(r.StartsAt) {
		return false
	}
	if matchWeekday && at.Weekday() != r.StartsAt.Weekday() {
		return false
	}
	from := clockSeconds(r.StartsAt)
	now := clockSeconds(at)
	if r.EndsAt == nil {
		return now >= from
	}
	until := clockSeconds(*r.EndsAt)
	if from <= until {
		return now >= from && now <= until
	}
	// Span crosses midnight.
	return now >= from || now <= until
}

func clockSeconds(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Repository provides read access to pricing rules. Implementations may
// over-select (e.g. return recurring rules regardless of instant); the
// engine re-checks ActiveAt precisely.
type Repository interface {
	// ActiveRules returns candidate rules for the scope and target that
	// may be active at the given instant. TargetID is ignored for cart scope.
	ActiveRules(ctx context.Context, scope Scope, targetID string, at time.Time) ([]Rule, error)
}
