package ailog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// DailyBudget tracks realized AI spend per tenant per UTC day.
type DailyBudget interface {
	// SpentToday returns the micros already spent on the given UTC day.
	SpentToday(ctx context.Context, tenantID string, day string) (int64, error)
	// Add records realized spend and returns the new day total.
	Add(ctx context.Context, tenantID string, day string, micros int64) (int64, error)
}

// BudgetDay formats the UTC budget day. Budgets reset at midnight UTC.
func BudgetDay(t time.Time) string {
	return t.UTC().Format("20060102")
}

// CheckBudget is the fail-closed gate: an unreadable budget counter blocks
// the call exactly like an exhausted one.
func CheckBudget(ctx context.Context, b DailyBudget, tenantID string, day string, limitMicros int64) error {
	if limitMicros <= 0 {
		return nil
	}
	spent, err := b.SpentToday(ctx, tenantID, day)
	if err != nil {
		return fmt.Errorf("%w: budget counter unavailable: %v", model.ErrBudgetExceeded, err)
	}
	if spent >= limitMicros {
		return fmt.Errorf("%w: spent %d of %d micros", model.ErrBudgetExceeded, spent, limitMicros)
	}
	return nil
}

// RedisBudget keeps the day counters in Redis so every node sees the same
// spend. Keys expire two days after last touch.
type RedisBudget struct {
	rdb *redis.Client
}

func NewRedisBudget(rdb *redis.Client) *RedisBudget {
	return &RedisBudget{rdb: rdb}
}

func budgetKey(tenantID, day string) string {
	return fmt.Sprintf("ai_budget:%s:%s", tenantID, day)
}

func (b *RedisBudget) SpentToday(ctx context.Context, tenantID string, day string) (int64, error) {
	v, err := b.rdb.Get(ctx, budgetKey(tenantID, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ailog: read budget: %w", err)
	}
	return v, nil
}

func (b *RedisBudget) Add(ctx context.Context, tenantID string, day string, micros int64) (int64, error) {
	key := budgetKey(tenantID, day)
	total, err := b.rdb.IncrBy(ctx, key, micros).Result()
	if err != nil {
		return 0, fmt.Errorf("ailog: add budget: %w", err)
	}
	_ = b.rdb.Expire(ctx, key, 48*time.Hour).Err()
	return total, nil
}

// MemoryBudget is the single-node fallback and the test double.
type MemoryBudget struct {
	mu    sync.Mutex
	spent map[string]int64
}

func NewMemoryBudget() *MemoryBudget {
	return &MemoryBudget{spent: map[string]int64{}}
}

func (b *MemoryBudget) SpentToday(_ context.Context, tenantID string, day string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent[budgetKey(tenantID, day)], nil
}

func (b *MemoryBudget) Add(_ context.Context, tenantID string, day string, micros int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent[budgetKey(tenantID, day)] += micros
	return b.spent[budgetKey(tenantID, day)], nil
}
