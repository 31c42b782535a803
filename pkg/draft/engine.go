package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow-io/orderflow/pkg/audit"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/validate"
)

// optimisticRetries bounds in-band retries of ready-check and matching
// updates before the conflict surfaces to the caller.
const optimisticRetries = 3

// Store is the draft persistence port. Update must compare-and-swap on
// Version and return model.ErrOptimisticConflict on mismatch.
type Store interface {
	Get(ctx context.Context, id string) (*model.DraftOrder, error)
	Update(ctx context.Context, draft *model.DraftOrder) error
	ListLines(ctx context.Context, draftID string) ([]*model.DraftOrderLine, error)
	ListIssues(ctx context.Context, draftID string) ([]*model.ValidationIssue, error)
}

// Engine drives draft transitions and the ready gate.
type Engine struct {
	store Store
	audit audit.Recorder
	log   *slog.Logger
	clock func() time.Time
}

func NewEngine(store Store, recorder audit.Recorder) *Engine {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Engine{
		store: store,
		audit: recorder,
		log:   slog.Default().With("component", "draft"),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Transition moves the draft to the target status, persists it and emits
// an audit entry. Disallowed transitions fail without side effects.
func (e *Engine) Transition(ctx context.Context, draft *model.DraftOrder, to model.DraftStatus) error {
	from := draft.Status
	if !model.CanTransition(from, to) {
		return &model.StateMachineError{DraftID: draft.ID, From: from, To: to}
	}

	draft.Status = to
	draft.UpdatedAt = e.clock()
	if err := e.store.Update(ctx, draft); err != nil {
		draft.Status = from
		return fmt.Errorf("draft: persist transition: %w", err)
	}

	if err := e.audit.Record(ctx, audit.ActionStatusTransition, "draft_order/"+draft.ID,
		map[string]any{"status": string(from)},
		map[string]any{"status": string(to)}); err != nil {
		e.log.Error("audit record failed", "draft_id", draft.ID, "err", err)
	}
	e.log.Info("draft transition", "draft_id", draft.ID, "from", from, "to", to)
	return nil
}

// ComputeReady evaluates the ready gate without touching storage.
func ComputeReady(draft *model.DraftOrder, lines []*model.DraftOrderLine, issues []*model.ValidationIssue, now time.Time) *model.ReadyCheck {
	var reasons []string

	if draft.CustomerID == "" {
		reasons = append(reasons, "customer not set")
	}
	if draft.Currency == "" {
		reasons = append(reasons, "currency not set")
	}
	if len(lines) == 0 {
		reasons = append(reasons, "no order lines")
	}
	for _, l := range lines {
		switch {
		case l.Qty == nil || *l.Qty <= 0:
			reasons = append(reasons, fmt.Sprintf("line %d: qty missing or not positive", l.LineNo))
		case l.UOM == "":
			reasons = append(reasons, fmt.Sprintf("line %d: unit of measure missing", l.LineNo))
		case l.InternalSKU == "":
			reasons = append(reasons, fmt.Sprintf("line %d: no internal sku", l.LineNo))
		}
	}
	if validate.HasBlockingError(issues) {
		reasons = append(reasons, "open blocking issues")
	}

	return &model.ReadyCheck{
		IsReady:         len(reasons) == 0,
		BlockingReasons: reasons,
		CheckedAt:       now,
	}
}

// Refresh re-runs the ready gate on the stored draft and auto-flips the
// status between NEEDS_REVIEW and READY. Approved and terminal drafts are
// never flipped. Version conflicts retry the whole check.
func (e *Engine) Refresh(ctx context.Context, draftID string) (*model.ReadyCheck, error) {
	var check *model.ReadyCheck
	err := e.withRetry(ctx, func() error {
		draft, err := e.store.Get(ctx, draftID)
		if err != nil {
			return err
		}
		lines, err := e.store.ListLines(ctx, draftID)
		if err != nil {
			return err
		}
		issues, err := e.store.ListIssues(ctx, draftID)
		if err != nil {
			return err
		}

		check = ComputeReady(draft, lines, issues, e.clock())
		draft.Ready = check
		draft.MatchingConfidence = MatchingConfidence(lines)
		draft.ConfidenceScore = OverallConfidence(draft.ExtractionConfidence, draft.CustomerConfidence, draft.MatchingConfidence)

		target := draft.Status
		switch {
		case draft.Status.AtLeastApproved() || draft.Status.Terminal():
			// The gate never pulls a draft back out of approval.
		case check.IsReady && (draft.Status == model.DraftExtracted || draft.Status == model.DraftNeedsReview):
			target = model.DraftReady
		case !check.IsReady && (draft.Status == model.DraftExtracted || draft.Status == model.DraftReady):
			target = model.DraftNeedsReview
		}

		if target != draft.Status {
			return e.Transition(ctx, draft, target)
		}
		draft.UpdatedAt = e.clock()
		return e.store.Update(ctx, draft)
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}

// withRetry re-runs fn on optimistic conflicts, up to the retry budget.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= optimisticRetries; attempt++ {
		if err = fn(); !errors.Is(err, model.ErrOptimisticConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return err
}
