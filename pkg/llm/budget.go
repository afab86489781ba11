package llm

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Budget admits or rejects live model calls. Cache hits never consult
// the budget.
type Budget interface {
	Allow(ctx context.Context) error
}

// dailyBudgetScript increments the day's counter and sets its expiry to
// the next UTC midnight on first use.
// KEYS[1] = counter key, ARGV[1] = max per day, ARGV[2] = seconds to midnight
var dailyBudgetScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
end
if n > tonumber(ARGV[1]) then
    return 0
end
return 1
`)

// RedisBudget combines a per-second limiter with a daily call counter
// kept in Redis so the cap holds across workers.
type RedisBudget struct {
	client     *redis.Client
	limiter    *rate.Limiter
	maxPerDay  int
	counterKey string
	now        func() time.Time
}

func NewRedisBudget(client *redis.Client, perSecond float64, maxPerDay int) *RedisBudget {
	return &RedisBudget{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		maxPerDay:  maxPerDay,
		counterKey: "ire:llm:budget",
		now:        time.Now,
	}
}

func (b *RedisBudget) Allow(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_rate_wait_cancelled", err)
	}
	if b.maxPerDay <= 0 {
		return nil
	}
	now := b.now().UTC()
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	ttl := int(midnight.Sub(now).Seconds()) + 1

	res, err := dailyBudgetScript.Run(ctx, b.client, []string{b.counterKey}, b.maxPerDay, ttl).Int()
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_budget_unavailable", err)
	}
	if res == 0 {
		return fault.New(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_budget_exhausted")
	}
	return nil
}

// MemoryBudget is the single-process fallback.
type MemoryBudget struct {
	limiter   *rate.Limiter
	maxPerDay int
	now       func() time.Time

	mu    sync.Mutex
	day   string
	count int
}

func NewMemoryBudget(perSecond float64, maxPerDay int) *MemoryBudget {
	return &MemoryBudget{
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		maxPerDay: maxPerDay,
		now:       time.Now,
	}
}

func (b *MemoryBudget) Allow(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_rate_wait_cancelled", err)
	}
	if b.maxPerDay <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	day := b.now().UTC().Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.count = 0
	}
	if b.count >= b.maxPerDay {
		return fault.New(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_budget_exhausted")
	}
	b.count++
	return nil
}
