package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nghednh/flowershop-checkout/internal/domain/pricing"
)

var _ pricing.Repository = (*CachedRuleRepository)(nil)

// CachedRuleRepository is a read-through Redis cache in front of a pricing
// rule repository. Rule reads happen on every cart snapshot, so the hot
// scope/target sets are cached with a short TTL.
//
// The cache is best-effort: Redis failures fall through to the inner
// repository, and staleness is bounded by the TTL. That is acceptable
// because displayed prices are advisory; checkout's price freeze is simply
// another read through this decorator and tolerates the same bound.
type CachedRuleRepository struct {
	inner  pricing.Repository
	client *redis.Client
	ttl    time.Duration
}

// NewCachedRuleRepository wraps inner with a Redis cache.
func NewCachedRuleRepository(inner pricing.Repository, client *redis.Client, ttl time.Duration) *CachedRuleRepository {
	return &CachedRuleRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
	}
}

// ActiveRules returns the cached rule set for (scope, target) when present,
// falling back to the inner repository. The time filter is re-applied by the
// engine, so caching per scope/target (not per instant) is safe.
func (r *CachedRuleRepository) ActiveRules(ctx context.Context, scope pricing.Scope, targetID string, at time.Time) ([]pricing.Rule, error) {
	key := r.key(scope, targetID)

	payload, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var rules []pricing.Rule
		if err := json.Unmarshal([]byte(payload), &rules); err == nil {
			return rules, nil
		}
		// Corrupt entry: drop it and re-read.
		r.client.Del(ctx, key)
	}
	// Cache miss and Redis failure both read through to the inner repository.

	rules, err := r.inner.ActiveRules(ctx, scope, targetID, at)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(rules); err == nil {
		r.client.Set(ctx, key, encoded, r.ttl)
	}

	return rules, nil
}

func (r *CachedRuleRepository) key(scope pricing.Scope, targetID string) string {
	return fmt.Sprintf("pricing:rules:%s:%s", scope, targetID)
}
