package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/repository"
)

// storedWorkOrder is the badgerhold record for models.WorkOrder: embeds
// the model and adds the indexed fields badgerhold queries filter on.
type storedWorkOrder struct {
	RecordID string `badgerhold:"key"`
	UserID   string `badgerhold:"index"`
	models.WorkOrder
}

type storedDispenser struct {
	RecordID    string `badgerhold:"key"`
	WorkOrderID string `badgerhold:"index"`
	models.Dispenser
}

type storedHistory struct {
	RecordID string `badgerhold:"key"`
	models.ScrapingHistoryRecord
}

// Repository implements repository.Repository on top of badgerhold,
// generalizing the teacher's job_storage.go / document_storage.go
// query idiom (badgerhold.Where + Find).
type Repository struct {
	db     *DB
	logger arbor.ILogger
}

// NewRepository constructs a Badger-backed repository.Repository.
func NewRepository(db *DB, logger arbor.ILogger) repository.Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) UpsertWorkOrder(_ context.Context, wo *models.WorkOrder) error {
	if wo.ID == "" {
		wo.ID = uuid.New().String()
	}
	now := time.Now()
	if wo.CreatedAt.IsZero() {
		wo.CreatedAt = now
	}
	wo.UpdatedAt = now

	rec := storedWorkOrder{RecordID: wo.ID, UserID: wo.UserID, WorkOrder: *wo}
	if err := r.db.Store().Upsert(wo.ID, &rec); err != nil {
		return fmt.Errorf("failed to upsert work order: %w", err)
	}
	return nil
}

func (r *Repository) DeleteWorkOrder(ctx context.Context, id string) error {
	// Referential cleanup: dispensers before work order (spec §4.4.3, §8.5).
	dispensers, err := r.DispensersForWorkOrder(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range dispensers {
		if err := r.db.Store().Delete(d.ID, &storedDispenser{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to delete dispenser %s: %w", d.ID, err)
		}
	}

	if err := r.db.Store().Delete(id, &storedWorkOrder{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete work order: %w", err)
	}
	return nil
}

func (r *Repository) FindWorkOrders(_ context.Context, userID string, filters repository.WorkOrderFilters, page repository.Pagination) ([]*models.WorkOrder, int, error) {
	query := badgerhold.Where("UserID").Eq(userID)
	if filters.ScheduledBetween != nil {
		query = query.And("ScheduledDate").Ge(filters.ScheduledBetween.Start).And("ScheduledDate").Le(filters.ScheduledBetween.End)
	}

	var all []storedWorkOrder
	if err := r.db.Store().Find(&all, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list work orders: %w", err)
	}
	total := len(all)

	sorted := query.SortBy("ScheduledDate")
	if page.Limit > 0 {
		sorted = sorted.Limit(page.Limit)
	}
	if page.Skip > 0 {
		sorted = sorted.Skip(page.Skip)
	}

	var page_ []storedWorkOrder
	if err := r.db.Store().Find(&page_, sorted); err != nil {
		return nil, 0, fmt.Errorf("failed to list work orders (paged): %w", err)
	}

	out := make([]*models.WorkOrder, len(page_))
	for i := range page_ {
		wo := page_[i].WorkOrder
		out[i] = &wo
	}
	return out, total, nil
}

func (r *Repository) FindWorkOrder(_ context.Context, id, userID string) (*models.WorkOrder, error) {
	var rec storedWorkOrder
	if err := r.db.Store().Get(id, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("work order not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("work order not found: %s", id)
	}
	wo := rec.WorkOrder
	return &wo, nil
}

// ReplaceDispensersForWorkOrder atomically swaps the dispenser set for a
// work order within one Badger transaction, so no reader ever observes
// the work order with a partial dispenser set (spec §4.10 invariant).
func (r *Repository) ReplaceDispensersForWorkOrder(_ context.Context, workOrderID string, dispensers []*models.Dispenser) error {
	existing, err := r.DispensersForWorkOrder(context.Background(), workOrderID)
	if err != nil {
		return err
	}

	txn := r.db.Store().Badger().NewTransaction(true)
	defer txn.Discard()

	for _, d := range existing {
		if err := r.db.Store().TxDelete(txn, d.ID, &storedDispenser{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("replace dispensers: failed to delete %s: %w", d.ID, err)
		}
	}

	for _, d := range dispensers {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		d.WorkOrderID = workOrderID
		rec := storedDispenser{RecordID: d.ID, WorkOrderID: workOrderID, Dispenser: *d}
		if err := r.db.Store().TxUpsert(txn, d.ID, &rec); err != nil {
			return fmt.Errorf("replace dispensers: failed to insert %s: %w", d.ID, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("replace dispensers: commit failed: %w", err)
	}
	return nil
}

func (r *Repository) DispensersForWorkOrder(_ context.Context, workOrderID string) ([]*models.Dispenser, error) {
	var recs []storedDispenser
	if err := r.db.Store().Find(&recs, badgerhold.Where("WorkOrderID").Eq(workOrderID)); err != nil {
		return nil, fmt.Errorf("failed to list dispensers: %w", err)
	}
	out := make([]*models.Dispenser, len(recs))
	for i := range recs {
		d := recs[i].Dispenser
		out[i] = &d
	}
	return out, nil
}

func (r *Repository) RecordScrapingHistory(_ context.Context, record *models.ScrapingHistoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	rec := storedHistory{RecordID: record.ID, ScrapingHistoryRecord: *record}
	if err := r.db.Store().Insert(record.ID, &rec); err != nil {
		return fmt.Errorf("failed to record scraping history: %w", err)
	}
	return nil
}

func (r *Repository) Reconcile(ctx context.Context, userID string, newWorkOrders []*models.WorkOrder) (int, int, int, error) {
	existing, _, err := r.FindWorkOrders(ctx, userID, repository.WorkOrderFilters{}, repository.Pagination{})
	if err != nil {
		return 0, 0, 0, err
	}

	existingByExternalID := make(map[string]*models.WorkOrder, len(existing))
	for _, wo := range existing {
		existingByExternalID[wo.ExternalID] = wo
	}

	newByExternalID := make(map[string]*models.WorkOrder, len(newWorkOrders))
	for _, wo := range newWorkOrders {
		newByExternalID[wo.ExternalID] = wo
	}

	var inserted, updated, deleted int

	for extID, wo := range existingByExternalID {
		if _, stillPresent := newByExternalID[extID]; !stillPresent {
			if err := r.DeleteWorkOrder(ctx, wo.ID); err != nil {
				return inserted, updated, deleted, fmt.Errorf("reconcile: failed to delete %s: %w", extID, err)
			}
			deleted++
		}
	}

	for extID, wo := range newByExternalID {
		if existingWO, ok := existingByExternalID[extID]; ok {
			wo.ID = existingWO.ID
			updated++
		} else {
			wo.ID = uuid.New().String()
			inserted++
		}
		if err := r.UpsertWorkOrder(ctx, wo); err != nil {
			return inserted, updated, deleted, fmt.Errorf("reconcile: failed to upsert %s: %w", extID, err)
		}
	}

	return inserted, updated, deleted, nil
}
