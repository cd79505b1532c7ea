package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/fossawork/dispatcher/internal/driver"
	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/repository"
)

// Repository is the persistence boundary ListScrape reconciles
// against (spec §4.4.3, §4.10). Only repository.Repository's
// reconciliation-relevant methods are used here.
type Repository interface {
	Reconcile(ctx context.Context, userID string, newWorkOrders []*models.WorkOrder) (inserted, updated, deleted int, err error)
	RecordScrapingHistory(ctx context.Context, record *models.ScrapingHistoryRecord) error
	ReplaceDispensersForWorkOrder(ctx context.Context, workOrderID string, dispensers []*models.Dispenser) error
	FindWorkOrders(ctx context.Context, userID string, filters repository.WorkOrderFilters, page repository.Pagination) ([]*models.WorkOrder, int, error)
}

// ListScrapeResult summarizes one full list-scrape-and-reconcile pass.
type ListScrapeResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Found    int
}

// RunListScrape drives the full list-scrape pipeline (spec §4.4.1,
// §4.4.3): navigate to the list view, extract every row, then
// reconcile the result against the store so stale work orders and
// their dispensers are removed in the same pass. A scraping-history
// row is recorded regardless of outcome (spec §6 Persisted state).
func (s *Scraper) RunListScrape(ctx context.Context, d *driver.Driver, repo Repository, session *models.Session, userID string) (ListScrapeResult, error) {
	started := time.Now()

	if err := d.GoToList(ctx, session, "no_visits_completed"); err != nil {
		s.recordHistory(ctx, repo, userID, started, false, 0, 0, 0, 0, err)
		return ListScrapeResult{}, fmt.Errorf("run list scrape: %w", err)
	}
	d.SetPageSize(ctx, session, 100)

	listResult, err := s.ExtractList(ctx, session, userID)
	if err != nil {
		s.recordHistory(ctx, repo, userID, started, false, 0, 0, 0, 0, err)
		return ListScrapeResult{}, fmt.Errorf("run list scrape: %w", err)
	}

	inserted, updated, deleted, err := repo.Reconcile(ctx, userID, listResult.WorkOrders)
	if err != nil {
		s.recordHistory(ctx, repo, userID, started, false, len(listResult.WorkOrders), 0, 0, 0, err)
		return ListScrapeResult{}, fmt.Errorf("run list scrape: reconcile: %w", err)
	}

	s.recordHistory(ctx, repo, userID, started, true, len(listResult.WorkOrders), inserted, updated, deleted, nil)
	return ListScrapeResult{Inserted: inserted, Updated: updated, Deleted: deleted, Found: len(listResult.WorkOrders)}, nil
}

func (s *Scraper) recordHistory(ctx context.Context, repo Repository, userID string, started time.Time, success bool, found, inserted, updated, deleted int, cause error) {
	rec := &models.ScrapingHistoryRecord{
		UserID:       userID,
		ScheduleType: "list",
		Started:      started,
		Completed:    time.Now(),
		Success:      success,
		ItemsFound:   found,
		ItemsCreated: inserted,
		ItemsUpdated: updated,
		ItemsDeleted: deleted,
		Duration:     time.Since(started),
		TriggerType:  "manual",
	}
	if cause != nil {
		rec.ErrorMessage = cause.Error()
	}
	if err := repo.RecordScrapingHistory(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("scraper: failed to record scraping history")
	}
}

// RunDispenserScrape drives the per-work-order dispenser scrape (spec
// §4.4.2): ExtractDispensers navigates session to wo.CustomerURL
// itself and extracts its dispensers, then the stored set for wo is
// replaced atomically.
func (s *Scraper) RunDispenserScrape(ctx context.Context, session *models.Session, wo *models.WorkOrder, repo Repository) ([]*models.Dispenser, error) {
	if wo.CustomerURL == "" {
		return nil, fmt.Errorf("run dispenser scrape: work order %s has no customer url", wo.ID)
	}

	dispensers, _, err := s.ExtractDispensers(ctx, session, wo.CustomerURL)
	if err != nil {
		return nil, fmt.Errorf("run dispenser scrape: %w", err)
	}
	for _, d := range dispensers {
		d.WorkOrderID = wo.ID
	}
	if err := repo.ReplaceDispensersForWorkOrder(ctx, wo.ID, dispensers); err != nil {
		return nil, fmt.Errorf("run dispenser scrape: replace dispensers: %w", err)
	}
	return dispensers, nil
}

// BatchDispenserScrapeCandidates filters userID's work orders down to
// those whose service code triggers a dispenser scrape, matching spec
// §4.4.3's batch trigger rule and §6's scrape-dispensers-batch
// endpoint. It does not check whether a work order already has
// dispensers recorded.
func BatchDispenserScrapeCandidates(ctx context.Context, repo Repository, userID string) ([]*models.WorkOrder, error) {
	all, _, err := repo.FindWorkOrders(ctx, userID, repository.WorkOrderFilters{}, repository.Pagination{Limit: 0})
	if err != nil {
		return nil, fmt.Errorf("batch dispenser scrape candidates: %w", err)
	}
	var out []*models.WorkOrder
	for _, wo := range all {
		if wo.ServiceCode.TriggersDispenserScrape() {
			out = append(out, wo)
		}
	}
	return out, nil
}
