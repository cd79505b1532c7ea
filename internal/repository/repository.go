// Package repository defines the typed read/write boundary to the
// external persistent store (C11, spec §4.10). Out of scope per spec
// §1, this is an interface plus a default Badger-backed adapter; a
// production deployment may swap in a relational-store implementation
// without touching any other component.
package repository

import (
	"context"
	"time"

	"github.com/fossawork/dispatcher/internal/models"
)

// Pagination bounds a listing query.
type Pagination struct {
	Skip  int
	Limit int
}

// DateRange bounds a ScheduledDate filter; Start/End are both inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// WorkOrderFilters narrows a work-order listing (spec §6 GET /work-orders).
type WorkOrderFilters struct {
	ScheduledBetween *DateRange
}

// NewDateRangeFilter builds a WorkOrderFilters that bounds ScheduledDate.
func NewDateRangeFilter(start, end time.Time) WorkOrderFilters {
	return WorkOrderFilters{ScheduledBetween: &DateRange{Start: start, End: end}}
}

// Repository is the typed boundary every component in this system uses
// to read and write persistent state (spec §4.10). Only typed
// operations are exposed — no raw query escape hatch.
type Repository interface {
	UpsertWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	DeleteWorkOrder(ctx context.Context, id string) error
	FindWorkOrders(ctx context.Context, userID string, filters WorkOrderFilters, page Pagination) ([]*models.WorkOrder, int, error)
	FindWorkOrder(ctx context.Context, id, userID string) (*models.WorkOrder, error)

	// ReplaceDispensersForWorkOrder atomically replaces the dispenser
	// set for a work order: no window exists where dispensers are
	// dangling (spec §4.10 invariant).
	ReplaceDispensersForWorkOrder(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error
	DispensersForWorkOrder(ctx context.Context, workOrderID string) ([]*models.Dispenser, error)

	RecordScrapingHistory(ctx context.Context, record *models.ScrapingHistoryRecord) error

	// Reconcile applies the list-scrape reconciliation rule (spec
	// §4.4.3, §8.5): work orders present in the store but absent from
	// newWorkOrders are deleted (with their dispensers removed first);
	// items present in both are updated; new items are inserted. The
	// operation runs per-row transactionally.
	Reconcile(ctx context.Context, userID string, newWorkOrders []*models.WorkOrder) (inserted, updated, deleted int, err error)
}
