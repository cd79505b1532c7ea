package models

import (
	"time"
)

// JobKind enumerates the automation operations the queue dispatches.
type JobKind string

const (
	JobKindScrapeList       JobKind = "scrape_list"
	JobKindScrapeDispensers JobKind = "scrape_dispensers"
	JobKindRunForm          JobKind = "run_form"
	JobKindRunBatch         JobKind = "run_batch"
)

// JobPriority orders ready jobs within and across queues; higher values
// run first (spec §4.9, §8.6).
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// JobState is a job's lifecycle state. Transitions are monotonic except
// the documented running->queued retry exception (spec §3 invariants).
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStatePaused    JobState = "paused"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
	JobStateTimeout   JobState = "timeout"
)

// IsTerminal reports whether no further transitions are expected from
// this state (used by the queue's 24h purge sweep, spec §4.9).
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateTimeout:
		return true
	default:
		return false
	}
}

// QueueName is one of the fixed logical queues a job is routed into.
type QueueName string

const (
	QueueSingle    QueueName = "single"
	QueueBatch     QueueName = "batch"
	QueueScheduled QueueName = "scheduled"
	QueueRetry     QueueName = "retry"
	QueuePriority  QueueName = "priority"
)

// QueueFairnessOrder is the fixed order the scheduler loop visits
// queues in on each tick (spec §4.9 step 1).
var QueueFairnessOrder = []QueueName{QueuePriority, QueueSingle, QueueBatch, QueueScheduled, QueueRetry}

// DependencyMode controls how a job's depends_on list is evaluated.
type DependencyMode string

const (
	DependencyAll DependencyMode = "all"
	DependencyAny DependencyMode = "any"
)

// ResourceRequirement is the resource budget a job declares on enqueue
// (spec §3, §4.8).
type ResourceRequirement struct {
	Sessions    int           `json:"sessions"`
	MemoryMB    int           `json:"memory_mb"`
	CPU         float64       `json:"cpu"`
	MaxDuration time.Duration `json:"max_duration"`
}

// Job is the mutable queue record for one unit of automation work
// (spec §3). Config/Payload fields use the teacher's immutable-snapshot
// convention (models.JobModel): captured at creation and never mutated
// in place except the documented state/timing fields below.
type Job struct {
	JobID    string  `json:"job_id"`
	UserID   string  `json:"user_id"`
	Kind     JobKind `json:"kind"`
	Priority JobPriority `json:"priority"`

	State JobState  `json:"state"`
	Queue QueueName `json:"queue"`

	Payload map[string]interface{} `json:"payload"`

	DependsOn      []string       `json:"depends_on,omitempty"`
	DependencyMode DependencyMode `json:"dependency_mode"`

	Resources ResourceRequirement `json:"resources"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	RetryCount int           `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error  string                 `json:"error,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
}

// EffectiveOrder returns the tuple the queue sorts on: lower sorts
// first. Priority is inverted into SortPriority (negative priority) so
// that ordering by (SortPriority, SortTime, CreatedAt) ascending yields
// highest priority first, per spec §4.9 and §8.6.
type EffectiveOrder struct {
	SortPriority int
	SortTime     time.Time
	CreatedAt    time.Time
}

func (j *Job) EffectiveOrder() EffectiveOrder {
	t := j.CreatedAt
	if j.ScheduledAt != nil {
		t = *j.ScheduledAt
	}
	return EffectiveOrder{
		SortPriority: -int(j.Priority),
		SortTime:     t,
		CreatedAt:    j.CreatedAt,
	}
}

// Less implements the total order used by the priority heaps (spec §4.9,
// §8.6): higher priority first, then earlier scheduled/created time.
func Less(a, b *Job) bool {
	oa, ob := a.EffectiveOrder(), b.EffectiveOrder()
	if oa.SortPriority != ob.SortPriority {
		return oa.SortPriority < ob.SortPriority
	}
	if !oa.SortTime.Equal(ob.SortTime) {
		return oa.SortTime.Before(ob.SortTime)
	}
	return oa.CreatedAt.Before(ob.CreatedAt)
}
