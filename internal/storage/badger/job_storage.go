package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/fossawork/dispatcher/internal/models"
)

// storedJob is the badgerhold record for models.Job: embeds the model
// and indexes the fields the queue's rehydration and admin listing
// query on.
type storedJob struct {
	RecordID string           `badgerhold:"key"`
	UserID   string           `badgerhold:"index"`
	State    models.JobState  `badgerhold:"index"`
	Queue    models.QueueName `badgerhold:"index"`
	models.Job
}

// JobStorage implements queue.Store on top of badgerhold, mirroring
// the teacher's job_storage.go persistence idiom (Upsert keyed by job
// ID, Find by index).
type JobStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewJobStorage constructs a queue.Store backed by Badger.
func NewJobStorage(db *DB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func (s *JobStorage) UpsertJob(_ context.Context, job *models.Job) error {
	rec := storedJob{RecordID: job.JobID, UserID: job.UserID, State: job.State, Queue: job.Queue, Job: *job}
	if err := s.db.Store().Upsert(job.JobID, &rec); err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteJob(_ context.Context, id string) error {
	if err := s.db.Store().Delete(id, &storedJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobs(_ context.Context) ([]*models.Job, error) {
	var recs []storedJob
	if err := s.db.Store().Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*models.Job, len(recs))
	for i := range recs {
		j := recs[i].Job
		out[i] = &j
	}
	return out, nil
}

// PurgeTerminalOlderThan deletes terminal jobs (completed/failed/
// cancelled/timeout) whose CompletedAt predates the given cutoff,
// implementing the queue's 24h purge sweep (spec §4.9).
func (s *JobStorage) PurgeTerminalOlderThan(ctx context.Context, cutoffUnix int64) (int, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, j := range jobs {
		if !j.State.IsTerminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Unix() >= cutoffUnix {
			continue
		}
		if err := s.DeleteJob(ctx, j.JobID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
