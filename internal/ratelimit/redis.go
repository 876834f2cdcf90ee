package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared Limiter backend for multi-process deployments. The
// counter increment and expiry set are pipelined into a single round trip;
// there is no read-modify-write window, so concurrent adapters cannot
// undercount. Bucketed keys expire on their own.
type Redis struct {
	client  *redis.Client
	budgets map[string]Budget
}

// NewRedis creates a limiter over an already-connected client; nil budgets
// selects DefaultBudgets.
func NewRedis(client *redis.Client, budgets map[string]Budget) *Redis {
	if budgets == nil {
		budgets = DefaultBudgets
	}
	return &Redis{client: client, budgets: budgets}
}

func (r *Redis) Allow(ctx context.Context, apiName string) (bool, error) {
	budget := budgetFor(r.budgets, apiName)
	now := time.Now()
	dk, hk := dailyKey(apiName, now), hourlyKey(apiName, now)

	pipe := r.client.Pipeline()
	dailyIncr := pipe.Incr(ctx, dk)
	pipe.Expire(ctx, dk, 24*time.Hour)
	hourlyIncr := pipe.Incr(ctx, hk)
	pipe.Expire(ctx, hk, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return dailyIncr.Val() <= int64(budget.Daily) && hourlyIncr.Val() <= int64(budget.Hourly), nil
}

func (r *Redis) Usage(ctx context.Context, apiName string) (Usage, error) {
	budget := budgetFor(r.budgets, apiName)
	now := time.Now()

	daily, err := r.client.Get(ctx, dailyKey(apiName, now)).Int()
	if err != nil && err != redis.Nil {
		return Usage{}, err
	}
	hourly, err := r.client.Get(ctx, hourlyKey(apiName, now)).Int()
	if err != nil && err != redis.Nil {
		return Usage{}, err
	}

	return usageOf(apiName, budget, daily, hourly), nil
}
