package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/progress"
	"github.com/fossawork/dispatcher/internal/resources"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]*models.Job)} }

func (s *memStore) UpsertJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.JobID] = &cp
	return nil
}

func (s *memStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) ListJobs(_ context.Context) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func testQueue(t *testing.T) (*Queue, *memStore) {
	t.Helper()
	store := newMemStore()
	resMgr := resources.New(resources.Limits{MaxSessions: 10}, arbor.NewLogger())
	bus := progress.New(arbor.NewLogger())
	q := New(Config{Workers: 2, DefaultRetryWait: time.Millisecond, DefaultMaxRetry: 2}, store, resMgr, bus, arbor.NewLogger())
	return q, store
}

// TestPopReady_HigherPriorityFirst covers the priority-heap ordering
// property: among ready jobs in the same queue, higher priority runs
// first regardless of enqueue order.
func TestPopReady_HigherPriorityFirst(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	low := &models.Job{JobID: "low", Kind: models.JobKindScrapeList, Priority: models.PriorityLow, Queue: models.QueueSingle}
	high := &models.Job{JobID: "high", Kind: models.JobKindScrapeList, Priority: models.PriorityCritical, Queue: models.QueueSingle}

	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))

	got := q.popReady()
	require.NotNil(t, got)
	require.Equal(t, "high", got.JobID)
}

// TestPopReady_SkipsNotYetScheduled covers the scheduled_at gate: a
// job scheduled in the future is not dispatched even if it is
// otherwise the highest-priority ready job.
func TestPopReady_SkipsNotYetScheduled(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	notYet := &models.Job{JobID: "future", Kind: models.JobKindScrapeList, Priority: models.PriorityCritical, Queue: models.QueueScheduled, ScheduledAt: &future}
	ready := &models.Job{JobID: "ready", Kind: models.JobKindScrapeList, Priority: models.PriorityLow, Queue: models.QueueBatch}

	require.NoError(t, q.Enqueue(ctx, notYet))
	require.NoError(t, q.Enqueue(ctx, ready))

	got := q.popReady()
	require.NotNil(t, got)
	require.Equal(t, "ready", got.JobID)
}

// TestFail_RetriesThenFailsPermanently covers the retry-count/backoff
// property: a failing job is rescheduled onto the retry queue rather
// than marked permanently failed, until max_retries is exceeded.
func TestFail_RetriesThenFailsPermanently(t *testing.T) {
	q, store := testQueue(t)
	ctx := context.Background()

	handlerErr := errors.New("simulated scrape failure")
	job := &models.Job{JobID: "retry-me", Kind: models.JobKindScrapeList, Queue: models.QueueSingle}
	require.NoError(t, q.Enqueue(ctx, job))

	q.fail(ctx, job, handlerErr)
	require.Equal(t, models.JobStateQueued, job.State)
	require.Equal(t, 1, job.RetryCount)
	require.Equal(t, models.QueueRetry, job.Queue)

	q.fail(ctx, job, handlerErr)
	require.Equal(t, models.JobStateQueued, job.State)
	require.Equal(t, 2, job.RetryCount)

	q.fail(ctx, job, handlerErr)
	require.Equal(t, models.JobStateFailed, job.State)
	require.Equal(t, 3, job.RetryCount)

	persisted, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
}

// TestPopReady_BlocksOnUnsatisfiedDependency covers gate check (b):
// a job whose depends_on list has not reached completed is not
// dispatched, even as the highest-priority ready job in its queue.
func TestPopReady_BlocksOnUnsatisfiedDependency(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	dep := &models.Job{JobID: "dep", Kind: models.JobKindScrapeList, Queue: models.QueueSingle, State: models.JobStateRunning}
	q.byID[dep.JobID] = dep

	blocked := &models.Job{JobID: "blocked", Kind: models.JobKindRunForm, Priority: models.PriorityCritical, Queue: models.QueueSingle, DependsOn: []string{"dep"}, DependencyMode: models.DependencyAll}
	ready := &models.Job{JobID: "ready", Kind: models.JobKindScrapeList, Priority: models.PriorityLow, Queue: models.QueueBatch}

	require.NoError(t, q.Enqueue(ctx, blocked))
	require.NoError(t, q.Enqueue(ctx, ready))

	got := q.popReady()
	require.NotNil(t, got)
	require.Equal(t, "ready", got.JobID, "the dependency-gated job must not dispatch before its dependency completes")
}

// TestPopReady_DispatchesOnceDependencyCompletes covers the positive
// side of gate check (b) for dependency_mode=all.
func TestPopReady_DispatchesOnceDependencyCompletes(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	dep := &models.Job{JobID: "dep", Kind: models.JobKindScrapeList, Queue: models.QueueSingle, State: models.JobStateCompleted}
	q.byID[dep.JobID] = dep

	job := &models.Job{JobID: "dependent", Kind: models.JobKindRunForm, Queue: models.QueueSingle, DependsOn: []string{"dep"}, DependencyMode: models.DependencyAll}
	require.NoError(t, q.Enqueue(ctx, job))

	got := q.popReady()
	require.NotNil(t, got)
	require.Equal(t, "dependent", got.JobID)
}

// TestPopReady_DependencyModeAnySatisfiedByOneCompletion covers
// dependency_mode=any: only one of several depends_on entries needs to
// complete.
func TestPopReady_DependencyModeAnySatisfiedByOneCompletion(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	depDone := &models.Job{JobID: "dep-done", Kind: models.JobKindScrapeList, Queue: models.QueueSingle, State: models.JobStateCompleted}
	depPending := &models.Job{JobID: "dep-pending", Kind: models.JobKindScrapeList, Queue: models.QueueSingle, State: models.JobStateRunning}
	q.byID[depDone.JobID] = depDone
	q.byID[depPending.JobID] = depPending

	job := &models.Job{JobID: "dependent", Kind: models.JobKindRunForm, Queue: models.QueueSingle, DependsOn: []string{"dep-done", "dep-pending"}, DependencyMode: models.DependencyAny}
	require.NoError(t, q.Enqueue(ctx, job))

	got := q.popReady()
	require.NotNil(t, got)
	require.Equal(t, "dependent", got.JobID)
}

// TestPopReady_UnknownDependencyTreatedAsSatisfied covers the
// fail-open behavior for a depends_on id this queue has never seen
// (e.g. already purged by the scheduler's terminal-job sweep): it must
// not block its dependent forever.
func TestPopReady_UnknownDependencyTreatedAsSatisfied(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	job := &models.Job{JobID: "dependent", Kind: models.JobKindRunForm, Queue: models.QueueSingle, DependsOn: []string{"long-gone"}, DependencyMode: models.DependencyAll}
	require.NoError(t, q.Enqueue(ctx, job))

	got := q.popReady()
	require.NotNil(t, got)
	require.Equal(t, "dependent", got.JobID)
}

// TestCancel_TerminalJobIsNoOp covers that cancelling an already
// terminal job does not resurrect it.
func TestCancel_TerminalJobIsNoOp(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	job := &models.Job{JobID: "done", Kind: models.JobKindScrapeList, Queue: models.QueueSingle, State: models.JobStateCompleted}
	q.byID[job.JobID] = job

	require.NoError(t, q.Cancel(ctx, job.JobID))
	require.Equal(t, models.JobStateCompleted, job.State)
}
