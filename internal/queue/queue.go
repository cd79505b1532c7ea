// Package queue implements the job queue (C9, spec §4.9): five
// logical queues (single, batch, scheduled, retry, priority) each
// ordered by (-priority, scheduled_at ?? created_at, created_at),
// served by a worker pool under round-robin fairness across queues.
// Grounded on the teacher's internal/queue package (priority heap +
// worker pool over container/heap) generalized from search-job
// priorities to models.Job.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/progress"
	"github.com/fossawork/dispatcher/internal/resources"
)

// Store is the persistence boundary the queue uses to survive restart
// (spec §4.9: "jobs are persisted at each state transition").
type Store interface {
	UpsertJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]*models.Job, error)
}

// Handler executes one job's work. The app package registers one per
// models.JobKind; the queue only orchestrates scheduling, retries, and
// resource accounting.
type Handler func(ctx context.Context, job *models.Job) error

// jobHeap is a container/heap.Interface over *models.Job ordered by
// models.Less, used once per models.QueueName.
type jobHeap []*models.Job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return models.Less(h[i], h[j]) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*models.Job)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the C9 job queue: multi-heap priority scheduler with a
// bounded worker pool and resource-aware admission.
type Queue struct {
	mu      sync.Mutex
	heaps   map[models.QueueName]*jobHeap
	byID    map[string]*models.Job
	fairPos int

	handlers map[models.JobKind]Handler

	store     Store
	resources *resources.Manager
	bus       *progress.Bus
	logger    arbor.ILogger

	workers   int
	sem       chan struct{}
	wakeup    chan struct{}
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
	retryBase time.Duration
	defaultMaxRetry int
}

// Config bounds worker concurrency and default retry behavior (spec
// §4.9, §4.7). A job's own MaxRetries/RetryDelay override these
// defaults when set.
type Config struct {
	Workers          int
	DefaultRetryWait time.Duration
	DefaultMaxRetry  int
}

// New constructs a Queue. Call Rehydrate after New to reload
// persisted jobs from a prior run, then Start to begin dispatching.
func New(cfg Config, store Store, resourceMgr *resources.Manager, bus *progress.Bus, logger arbor.ILogger) *Queue {
	q := &Queue{
		heaps:     make(map[models.QueueName]*jobHeap),
		byID:      make(map[string]*models.Job),
		handlers:  make(map[models.JobKind]Handler),
		store:     store,
		resources: resourceMgr,
		bus:       bus,
		logger:    logger,
		workers:   cfg.Workers,
		sem:       make(chan struct{}, cfg.Workers),
		wakeup:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		retryBase: cfg.DefaultRetryWait,
		defaultMaxRetry: cfg.DefaultMaxRetry,
	}
	for _, name := range models.QueueFairnessOrder {
		h := &jobHeap{}
		heap.Init(h)
		q.heaps[name] = h
	}
	return q
}

// RegisterHandler binds a JobKind to its executor. Must be called
// before Start.
func (q *Queue) RegisterHandler(kind models.JobKind, h Handler) {
	q.handlers[kind] = h
}

// Rehydrate reloads non-terminal jobs persisted by a prior process
// into the in-memory heaps (spec §4.9 restart-recovery requirement).
func (q *Queue) Rehydrate(ctx context.Context) error {
	jobs, err := q.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate: failed to list jobs: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	restored := 0
	for _, j := range jobs {
		if j.State.IsTerminal() {
			continue
		}
		if j.State == models.JobStateRunning {
			// A running job with no live worker is orphaned by the
			// restart; requeue it for another attempt.
			j.State = models.JobStateQueued
		}
		q.byID[j.JobID] = j
		heap.Push(q.heaps[j.Queue], j)
		restored++
	}
	q.logger.Info().Int("count", restored).Msg("queue: rehydrated jobs from storage")
	return nil
}

// Enqueue admits a new job onto its logical queue and persists it.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.State == "" {
		job.State = models.JobStateQueued
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.defaultMaxRetry
	}
	if job.RetryDelay == 0 {
		job.RetryDelay = q.retryBase
	}
	if job.Queue == "" {
		job.Queue = models.QueueSingle
		if job.Kind == models.JobKindRunBatch {
			job.Queue = models.QueueBatch
		}
	}
	if _, ok := q.heaps[job.Queue]; !ok {
		return fmt.Errorf("enqueue: unknown queue %q", job.Queue)
	}

	if err := q.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("enqueue: failed to persist job: %w", err)
	}

	q.mu.Lock()
	q.byID[job.JobID] = job
	heap.Push(q.heaps[job.Queue], job)
	q.mu.Unlock()

	q.nudge()
	q.publish(job, "queued")
	return nil
}

// Cancel marks a pending or running job cancelled. A running job's
// context is not forcibly killed here; the handler is expected to
// observe ctx.Done() (spec §4.9 cooperative cancellation).
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("cancel: job not found: %s", jobID)
	}
	if job.State.IsTerminal() {
		q.mu.Unlock()
		return nil
	}
	job.State = models.JobStateCancelled
	q.mu.Unlock()

	if err := q.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("cancel: failed to persist job: %w", err)
	}
	q.publish(job, "cancelled")
	return nil
}

// Start launches the worker pool. It returns immediately; call Stop
// to drain and shut down.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.dispatchLoop(ctx)
}

// Stop signals the dispatcher to stop admitting new work and waits for
// in-flight jobs' goroutines to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *Queue) nudge() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// dispatchLoop wakes on enqueue/completion and hands ready work to the
// worker semaphore, honoring queue fairness order and resource
// admission (spec §4.8, §4.9).
func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-q.wakeup:
		case <-ticker.C:
		}
		q.dispatchReady(ctx)
	}
}

func (q *Queue) dispatchReady(ctx context.Context) {
	for {
		select {
		case q.sem <- struct{}{}:
		default:
			return // worker pool saturated
		}

		job := q.popReady()
		if job == nil {
			<-q.sem
			return
		}

		q.wg.Add(1)
		go q.run(ctx, job)
	}
}

// popReady pops the highest-priority ready job across queues in
// fairness order, applying the gate checks of spec §4.9 step 2 in
// order: (a) still queued, (b) dependencies satisfied by
// dependency_mode, (c) scheduled_at <= now, (d) resource allocation
// succeeds.
func (q *Queue) popReady() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(models.QueueFairnessOrder); i++ {
		name := models.QueueFairnessOrder[(q.fairPos+i)%len(models.QueueFairnessOrder)]
		h := q.heaps[name]
		if h.Len() == 0 {
			continue
		}
		top := (*h)[0]
		if top.State == models.JobStateCancelled {
			heap.Pop(h)
			delete(q.byID, top.JobID)
			continue
		}
		if !q.dependenciesSatisfied(top) {
			continue
		}
		if top.ScheduledAt != nil && top.ScheduledAt.After(now) {
			continue
		}
		if !q.resources.CanAllocate(top.Resources) {
			continue
		}
		heap.Pop(h)
		q.resources.Allocate(top.JobID, top.Resources)
		q.fairPos = (q.fairPos + i + 1) % len(models.QueueFairnessOrder)
		return top
	}
	return nil
}

// dependenciesSatisfied evaluates job.DependsOn against job.DependencyMode
// (spec §4.9 gate check (b)). Called with q.mu already held.
func (q *Queue) dependenciesSatisfied(job *models.Job) bool {
	if len(job.DependsOn) == 0 {
		return true
	}
	if job.DependencyMode == models.DependencyAny {
		for _, depID := range job.DependsOn {
			if q.dependencyCompleted(depID) {
				return true
			}
		}
		return false
	}
	// DependencyAll, and the zero-value default.
	for _, depID := range job.DependsOn {
		if !q.dependencyCompleted(depID) {
			return false
		}
	}
	return true
}

// dependencyCompleted reports whether depID is known to have reached
// models.JobStateCompleted. A dependency id this queue has never seen
// (already purged by the scheduler's terminal-job sweep, or never
// submitted through this instance) cannot be waited on forever; it is
// treated as satisfied, with a warning, rather than blocking its
// dependent job indefinitely.
func (q *Queue) dependencyCompleted(depID string) bool {
	dep, ok := q.byID[depID]
	if !ok {
		q.logger.Warn().Str("dependency_job_id", depID).Msg("queue: dependency job unknown to this queue, treating as satisfied")
		return true
	}
	return dep.State == models.JobStateCompleted
}

func (q *Queue) run(ctx context.Context, job *models.Job) {
	defer q.wg.Done()
	defer func() { <-q.sem }()
	defer q.resources.Release(job.JobID)
	defer q.nudge()

	handler, ok := q.handlers[job.Kind]
	if !ok {
		q.fail(ctx, job, fmt.Errorf("no handler registered for job kind %q", job.Kind))
		return
	}

	job.State = models.JobStateRunning
	now := time.Now()
	job.StartedAt = &now
	_ = q.store.UpsertJob(ctx, job)
	q.publish(job, "running")

	err := handler(ctx, job)
	if err != nil {
		q.fail(ctx, job, err)
		return
	}

	job.State = models.JobStateCompleted
	completed := time.Now()
	job.CompletedAt = &completed
	job.Error = ""
	_ = q.store.UpsertJob(ctx, job)
	q.publish(job, "completed")
}

func (q *Queue) fail(ctx context.Context, job *models.Job, cause error) {
	job.RetryCount++
	job.Error = cause.Error()

	if job.RetryCount <= job.MaxRetries {
		job.State = models.JobStateQueued
		job.Queue = models.QueueRetry
		backoff := job.RetryDelay * time.Duration(1<<uint(job.RetryCount-1))
		next := time.Now().Add(backoff)
		job.ScheduledAt = &next
		_ = q.store.UpsertJob(ctx, job)

		q.mu.Lock()
		heap.Push(q.heaps[models.QueueRetry], job)
		q.mu.Unlock()

		q.logger.Warn().Str("job_id", job.JobID).Int("attempt", job.RetryCount).Err(cause).Msg("job failed, scheduled for retry")
		q.publish(job, "retrying")
		q.nudge()
		return
	}

	job.State = models.JobStateFailed
	completed := time.Now()
	job.CompletedAt = &completed
	_ = q.store.UpsertJob(ctx, job)
	q.logger.Error().Str("job_id", job.JobID).Err(cause).Msg("job failed permanently")
	q.publish(job, "failed")
}

func (q *Queue) publish(job *models.Job, status string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(models.ProgressEvent{
		JobID:     job.JobID,
		UserID:    job.UserID,
		Phase:     status,
		Message:   fmt.Sprintf("job %s: %s", job.JobID, status),
		Error:     job.Error,
		Timestamp: time.Now(),
	})
}

// Stats reports a point-in-time snapshot of queue depths, used by the
// operator CLI and GET /automation/queue/status (spec §6).
type Stats struct {
	Depths map[models.QueueName]int
	Total  int
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	depths := make(map[models.QueueName]int, len(q.heaps))
	total := 0
	for name, h := range q.heaps {
		depths[name] = h.Len()
		total += h.Len()
	}
	return Stats{Depths: depths, Total: total}
}
