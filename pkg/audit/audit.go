// Package audit records actor-attributed, append-only action entries with
// before/after snapshots. Entries are never updated; retention is handled
// by a purge outside the core.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

// Actions with a fixed vocabulary used across the pipeline.
const (
	ActionStatusTransition = "status_transition"
	ActionApprove          = "approve"
	ActionPush             = "push"
	ActionCustomerSelect   = "customer_select"
	ActionMappingConfirm   = "mapping_confirm"
	ActionMappingReject    = "mapping_reject"
	ActionFieldEdit        = "field_edit"
	ActionIssueOverride    = "issue_override"
)

// Recorder is the audit port.
type Recorder interface {
	Record(ctx context.Context, action, resource string, before, after map[string]any) error
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, entry *model.AuditEntry) error
}

// recorder writes entries through a store, attributing them to the
// context principal.
type recorder struct {
	store Store
	clock func() time.Time
}

func NewRecorder(store Store) Recorder {
	return &recorder{store: store, clock: func() time.Time { return time.Now().UTC() }}
}

func (r *recorder) Record(ctx context.Context, action, resource string, before, after map[string]any) error {
	tid, _ := tenant.ID(ctx)
	entry := &model.AuditEntry{
		ID:        uuid.NewString(),
		TenantID:  tid,
		ActorID:   tenant.Actor(ctx),
		Action:    action,
		Resource:  resource,
		Before:    before,
		After:     after,
		CreatedAt: r.clock(),
	}
	return r.store.Insert(ctx, entry)
}

// writerRecorder emits entries as JSON lines. Test and development sink.
type writerRecorder struct {
	mu    sync.Mutex
	w     io.Writer
	clock func() time.Time
}

func NewWriterRecorder(w io.Writer) Recorder {
	return &writerRecorder{w: w, clock: func() time.Time { return time.Now().UTC() }}
}

func (r *writerRecorder) Record(ctx context.Context, action, resource string, before, after map[string]any) error {
	tid, _ := tenant.ID(ctx)
	entry := &model.AuditEntry{
		ID:        uuid.NewString(),
		TenantID:  tid,
		ActorID:   tenant.Actor(ctx),
		Action:    action,
		Resource:  resource,
		Before:    before,
		After:     after,
		CreatedAt: r.clock(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(append(raw, '\n'))
	return err
}

// Nop discards every entry. For wiring paths where auditing is optional.
type Nop struct{}

func (Nop) Record(context.Context, string, string, map[string]any, map[string]any) error {
	return nil
}
