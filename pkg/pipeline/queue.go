// Package pipeline orchestrates a stored document through extraction,
// customer detection, matching, and validation into a reviewable draft.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

// Job is one queued extraction request. Force marks the explicit operator
// retry that bypasses the trigger rule.
type Job struct {
	TenantID   string
	DocumentID string
	Force      bool
}

// Processor consumes dequeued jobs.
type Processor func(ctx context.Context, job Job) error

// Queue is a bounded per-tenant work queue with one worker per tenant.
// The single worker serializes all writes for a tenant's documents and
// drafts; a full queue reports model.ErrQueueFull so intake can signal a
// transient failure.
type Queue struct {
	capacity int
	process  Processor
	log      *slog.Logger

	mu      sync.Mutex
	tenants map[string]chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(capacity int, process Processor) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		capacity: capacity,
		process:  process,
		log:      slog.Default().With("component", "pipeline.queue"),
		tenants:  map[string]chan Job{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue queues the document for the context tenant.
func (q *Queue) Enqueue(ctx context.Context, documentID string) error {
	return q.EnqueueJob(ctx, Job{DocumentID: documentID})
}

func (q *Queue) EnqueueJob(ctx context.Context, job Job) error {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	job.TenantID = tid

	select {
	case q.channel(tid) <- job:
		return nil
	default:
		return fmt.Errorf("%w: tenant %s", model.ErrQueueFull, tid)
	}
}

func (q *Queue) channel(tenantID string) chan Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.tenants[tenantID]
	if !ok {
		ch = make(chan Job, q.capacity)
		q.tenants[tenantID] = ch
		q.wg.Add(1)
		go q.work(tenantID, ch)
	}
	return ch
}

func (q *Queue) work(tenantID string, ch chan Job) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-ch:
			ctx := tenant.WithPrincipal(q.ctx, tenant.Principal{TenantID: tenantID})
			if err := q.process(ctx, job); err != nil {
				q.log.Error("document processing failed",
					"tenant_id", tenantID, "document_id", job.DocumentID, "error", err)
			}
		}
	}
}

// Close stops the workers after the current job finishes. Queued jobs are
// dropped; the documents stay in their stored status and can be re-queued.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}
