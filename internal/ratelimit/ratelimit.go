// Package ratelimit tracks per-upstream daily and hourly call budgets so the
// service never burns through a third-party API's free tier. Counters live in
// calendar-bucketed keys that expire naturally; limiters are constructed
// explicitly and injected into adapters, never shared through package state.
package ratelimit

import (
	"context"
	"time"
)

// Budget is the call allowance for one upstream API.
type Budget struct {
	Daily  int
	Hourly int
}

// DefaultBudgets sits slightly below the typical free-tier limits of each
// upstream so a clock-skewed counter cannot push us over.
var DefaultBudgets = map[string]Budget{
	"weather": {Daily: 950, Hourly: 40},
	"traffic": {Daily: 2000, Hourly: 100},
	"transit": {Daily: 1000, Hourly: 50},
}

// fallbackBudget applies to API names without a configured budget.
var fallbackBudget = Budget{Daily: 1000, Hourly: 50}

// Usage is a point-in-time view of one API's consumed budget.
type Usage struct {
	API          string `json:"api"`
	DailyCount   int    `json:"daily_count"`
	DailyLimit   int    `json:"daily_limit"`
	HourlyCount  int    `json:"hourly_count"`
	HourlyLimit  int    `json:"hourly_limit"`
	DailyRemain  int    `json:"daily_remaining"`
	HourlyRemain int    `json:"hourly_remaining"`
}

// Limiter gates upstream calls against the configured budgets.
//
// Allow atomically consumes one unit of budget and reports whether the call
// may proceed; the increment and check are a single operation so concurrent
// adapters cannot undercount.
type Limiter interface {
	Allow(ctx context.Context, apiName string) (bool, error)
	Usage(ctx context.Context, apiName string) (Usage, error)
}

func budgetFor(budgets map[string]Budget, apiName string) Budget {
	if b, ok := budgets[apiName]; ok {
		return b
	}
	return fallbackBudget
}

// Bucket keys match the counter layout used by both backends:
// "api_limit:{api}:daily:{YYYY-MM-DD}" and "api_limit:{api}:hourly:{YYYY-MM-DD-HH}".
func dailyKey(apiName string, now time.Time) string {
	return "api_limit:" + apiName + ":daily:" + now.UTC().Format("2006-01-02")
}

func hourlyKey(apiName string, now time.Time) string {
	return "api_limit:" + apiName + ":hourly:" + now.UTC().Format("2006-01-02-15")
}

func usageOf(apiName string, budget Budget, daily, hourly int) Usage {
	return Usage{
		API:          apiName,
		DailyCount:   daily,
		DailyLimit:   budget.Daily,
		HourlyCount:  hourly,
		HourlyLimit:  budget.Hourly,
		DailyRemain:  max(budget.Daily-daily, 0),
		HourlyRemain: max(budget.Hourly-hourly, 0),
	}
}
