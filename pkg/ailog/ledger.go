package ailog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// Store persists call log entries and serves the idempotence cache.
type Store interface {
	Insert(ctx context.Context, entry *model.AICallLog) error
	// FindSuccess returns the prior successful call for the key, or
	// model.ErrNotFound. Failed calls never serve as cache hits.
	FindSuccess(ctx context.Context, tenantID, callType, inputHash string) (*model.AICallLog, error)
}

// Call describes one provider invocation the ledger should gate and record.
type Call struct {
	TenantID    string
	CallType    string // template id
	Prompt      string // hashed, stored only with StorePrompt
	LimitMicros int64  // tenant daily budget, 0 disables the gate
	StorePrompt bool
	Invoke      func(ctx context.Context) (*llm.Result, error)
}

// Ledger wraps provider calls with the idempotence cache, the per-tenant
// rate limiter and the fail-closed daily budget, and records every attempt.
type Ledger struct {
	store   Store
	budget  DailyBudget
	limiter *TenantLimiter
	log     *slog.Logger
	clock   func() time.Time
}

func NewLedger(store Store, budget DailyBudget, limiter *TenantLimiter) *Ledger {
	return &Ledger{
		store:   store,
		budget:  budget,
		limiter: limiter,
		log:     slog.Default().With("component", "ailog"),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the ledger clock. Test hook.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Execute runs one gated provider call. Cache hits return the stored output
// without dispatching or spending. The budget is checked before dispatch
// and realized spend is added after, so a day can overshoot by at most one
// call.
func (l *Ledger) Execute(ctx context.Context, call Call) (*llm.Result, bool, error) {
	hash, err := InputHash(call.CallType, call.Prompt)
	if err != nil {
		return nil, false, err
	}

	if prior, err := l.store.FindSuccess(ctx, call.TenantID, call.CallType, hash); err == nil {
		l.log.Debug("ai call cache hit", "tenant_id", call.TenantID, "call_type", call.CallType, "input_hash", hash)
		return &llm.Result{
			RawOutput:    prior.Output,
			Provider:     prior.Provider,
			Model:        prior.Model,
			InputTokens:  prior.InputTokens,
			OutputTokens: prior.OutputTokens,
			LatencyMS:    prior.LatencyMS,
		}, true, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, false, fmt.Errorf("ailog: cache lookup: %w", err)
	}

	day := BudgetDay(l.clock())
	if err := CheckBudget(ctx, l.budget, call.TenantID, day, call.LimitMicros); err != nil {
		l.log.Warn("ai call blocked by budget", "tenant_id", call.TenantID, "call_type", call.CallType, "err", err)
		return nil, false, err
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx, call.TenantID); err != nil {
			return nil, false, fmt.Errorf("ailog: rate limit wait: %w", err)
		}
	}

	res, callErr := call.Invoke(ctx)

	entry := &model.AICallLog{
		ID:        uuid.NewString(),
		TenantID:  call.TenantID,
		CallType:  call.CallType,
		InputHash: hash,
		CreatedAt: l.clock(),
	}
	if call.StorePrompt {
		entry.Prompt = call.Prompt
	}
	if callErr != nil {
		entry.Succeeded = false
		entry.Error = callErr.Error()
	} else {
		entry.Succeeded = true
		entry.Provider = res.Provider
		entry.Model = res.Model
		entry.InputTokens = res.InputTokens
		entry.OutputTokens = res.OutputTokens
		entry.LatencyMS = res.LatencyMS
		entry.CostMicros = res.CostMicros
		entry.Output = res.RawOutput
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		// The call already happened; losing the ledger row is worse than
		// surfacing a storage error alongside the result.
		l.log.Error("ai call log insert failed", "tenant_id", call.TenantID, "err", err)
		if callErr == nil {
			return nil, false, fmt.Errorf("ailog: record call: %w", err)
		}
	}

	if callErr == nil && res.CostMicros > 0 {
		if _, err := l.budget.Add(ctx, call.TenantID, day, res.CostMicros); err != nil {
			l.log.Error("ai budget add failed", "tenant_id", call.TenantID, "err", err)
		}
	}

	if callErr != nil {
		return nil, false, callErr
	}
	return res, false, nil
}
