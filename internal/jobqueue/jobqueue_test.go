package jobqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/infinitymix/engine/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	queued  []*domain.Job
	done    []string
	failed  map[string]string
}

func newMemStore(jobs ...*domain.Job) *memStore {
	return &memStore{queued: jobs, failed: map[string]string{}}
}

func (m *memStore) ClaimJob(kind domain.JobKind) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, j := range m.queued {
		if j.Kind == kind {
			m.queued = append(m.queued[:i], m.queued[i+1:]...)
			return j, nil
		}
	}
	return nil, errors.New("no job available")
}

func (m *memStore) CompleteJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, id)
	return nil
}

func (m *memStore) FailJob(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = reason
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueRunsRegisteredHandlerAndMarksComplete(t *testing.T) {
	store := newMemStore(&domain.Job{ID: "j1", Kind: domain.JobAnalyze})
	q := New(store, testLogger(), 2)

	var ran int32
	q.OnKind(domain.JobAnalyze, func(ctx context.Context, job *domain.Job) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected the handler to run exactly once, ran %d times", ran)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.done) != 1 || store.done[0] != "j1" {
		t.Errorf("expected job j1 to be marked complete, got %v", store.done)
	}
}

func TestQueueMarksFailedJobsWithoutRetry(t *testing.T) {
	store := newMemStore(&domain.Job{ID: "j1", Kind: domain.JobRender})
	q := New(store, testLogger(), 2)

	var ran int32
	q.OnKind(domain.JobRender, func(ctx context.Context, job *domain.Job) error {
		atomic.AddInt32(&ran, 1)
		return errors.New("render blew up")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected the handler to run exactly once (no automatic retry), ran %d times", ran)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failed["j1"] != "render blew up" {
		t.Errorf("expected job j1 to be recorded failed, got %v", store.failed)
	}
}

func TestQueueRespectsConcurrencyLimit(t *testing.T) {
	jobs := []*domain.Job{
		{ID: "a", Kind: domain.JobAnalyze}, {ID: "b", Kind: domain.JobAnalyze}, {ID: "c", Kind: domain.JobAnalyze},
	}
	store := newMemStore(jobs...)
	q := New(store, testLogger(), 1)

	var concurrent, maxConcurrent int32
	q.OnKind(domain.JobAnalyze, func(ctx context.Context, job *domain.Job) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Errorf("expected at most 1 concurrent job, saw %d", maxConcurrent)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.done) != 3 {
		t.Errorf("expected all 3 jobs to drain, got %d", len(store.done))
	}
}
