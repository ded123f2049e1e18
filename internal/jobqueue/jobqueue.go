// Package jobqueue is the bounded in-process worker pool that drains a
// single FIFO queue of pipeline jobs (spec §4.6). It owns no persistence:
// the Catalog is the durable job ledger, and this package is purely the
// dispatch loop sitting on top of it.
package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/infinitymix/engine/internal/domain"
)

// Store is the slice of Catalog the JobQueue needs to claim and resolve jobs.
type Store interface {
	ClaimJob(kind domain.JobKind) (*domain.Job, error)
	CompleteJob(id string) error
	FailJob(id, reason string) error
}

// Handler processes one job's payload. Its only allowed effect is on
// Catalog/ObjectStore state; a returned error is logged and the job is
// marked failed — there is no automatic retry (spec §4.6).
type Handler func(ctx context.Context, job *domain.Job) error

// Queue is a bounded-concurrency dispatcher over a single shared FIFO,
// polling one Catalog-backed queue per registered kind.
type Queue struct {
	store       Store
	logger      *slog.Logger
	sem         *semaphore.Weighted
	handlers    map[domain.JobKind]Handler
	kinds       []domain.JobKind
	pollEvery   time.Duration
}

// New builds a Queue with concurrency C (spec default 4).
func New(store Store, logger *slog.Logger, concurrency int64) *Queue {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Queue{
		store:     store,
		logger:    logger,
		sem:       semaphore.NewWeighted(concurrency),
		handlers:  make(map[domain.JobKind]Handler),
		pollEvery: 50 * time.Millisecond,
	}
}

// OnKind registers the handler invoked for jobs of the given kind.
func (q *Queue) OnKind(kind domain.JobKind, handler Handler) {
	if _, exists := q.handlers[kind]; !exists {
		q.kinds = append(q.kinds, kind)
	}
	q.handlers[kind] = handler
}

// Run drains the queue until ctx is canceled. As soon as a worker slot
// frees up, the next claimable job (across all registered kinds, in
// round-robin so no single kind starves another) is dispatched.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.dispatchReady(ctx)
		}
	}
}

func (q *Queue) dispatchReady(ctx context.Context) {
	for {
		dispatched := false
		for _, kind := range q.kinds {
			if !q.sem.TryAcquire(1) {
				return
			}
			job, err := q.store.ClaimJob(kind)
			if err != nil {
				q.sem.Release(1)
				continue
			}
			dispatched = true
			handler := q.handlers[kind]
			go q.run(ctx, job, handler)
		}
		if !dispatched {
			return
		}
	}
}

func (q *Queue) run(ctx context.Context, job *domain.Job, handler Handler) {
	defer q.sem.Release(1)

	if err := handler(ctx, job); err != nil {
		q.logger.Error("job failed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		if err := q.store.FailJob(job.ID, err.Error()); err != nil {
			q.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := q.store.CompleteJob(job.ID); err != nil {
		q.logger.Error("failed to record job completion", "job_id", job.ID, "error", err)
	}
}

// Enqueue is a thin convenience wrapper kept for symmetry with OnKind; most
// callers enqueue directly through the Catalog so a single transaction can
// both persist the triggering state and create the job row.
func Enqueue(store interface {
	EnqueueJob(kind domain.JobKind, payload map[string]any) (*domain.Job, error)
}, kind domain.JobKind, payload map[string]any) (*domain.Job, error) {
	return store.EnqueueJob(kind, payload)
}
