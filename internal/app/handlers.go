package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fossawork/dispatcher/internal/formengine"
	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/repository"
)

// targetService is the vault's credential service key for the one
// target site this driver knows how to operate (spec §4.1, §4.3).
const targetService = "targetsite"

// registerJobHandlers binds every models.JobKind to the App method that
// performs its work, following the queue's Handler contract: the queue
// only orchestrates scheduling, retries and resource accounting, and
// these handlers call into the scraper and the form engine.
func (a *App) registerJobHandlers() {
	a.Queue.RegisterHandler(models.JobKindScrapeList, a.handleScrapeList)
	a.Queue.RegisterHandler(models.JobKindScrapeDispensers, a.handleScrapeDispensers)
	a.Queue.RegisterHandler(models.JobKindRunForm, a.handleRunForm)
	a.Queue.RegisterHandler(models.JobKindRunBatch, a.handleRunBatch)
}

// openSession logs job.UserID into the target site over a fresh
// browser context, returning the live session and a release function
// the caller must defer (spec §4.2/§4.3 reuse contract: one session
// per job, closed on job exit).
func (a *App) openSession(ctx context.Context, userID string) (*models.Session, func(), error) {
	cred, password, err := a.Vault.Retrieve(ctx, userID, targetService)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: retrieve credential: %w", err)
	}

	sessionID := uuid.New().String()
	session, release, err := a.Sessions.Open(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}

	result, err := a.Driver.Login(ctx, session, cred.Username, password)
	if err != nil || !result.OK {
		release()
		if err == nil {
			err = fmt.Errorf("login failed: %s", result.FailureReason)
		}
		return nil, nil, fmt.Errorf("open session: %w", err)
	}

	return session, func() {
		a.Resources.Release(sessionID)
		release()
	}, nil
}

// TestCredential performs a live login against the target site with
// the stored credential for (userID, service), used by
// POST /credentials/{service}/test (spec §6). It never stores or
// returns the password; the session it opens is torn down before
// returning regardless of outcome.
func (a *App) TestCredential(ctx context.Context, userID, service string) (bool, string, error) {
	cred, password, err := a.Vault.Retrieve(ctx, userID, service)
	if err != nil {
		return false, "no stored credential", nil
	}

	sessionID := uuid.New().String()
	session, release, err := a.Sessions.Open(ctx, sessionID, userID)
	if err != nil {
		return false, "", fmt.Errorf("test credential: %w", err)
	}
	defer release()

	result, err := a.Driver.Login(ctx, session, cred.Username, password)
	if err != nil {
		return false, "", fmt.Errorf("test credential: %w", err)
	}
	if !result.OK {
		return false, result.FailureReason, nil
	}
	return true, "credential verified", nil
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func payloadBool(payload map[string]interface{}, key string) bool {
	if v, ok := payload[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// handleScrapeList drives C5's full list-scrape-and-reconcile pipeline
// for one job (spec §4.4.1, §4.4.3, §6 POST /work-orders/scrape).
func (a *App) handleScrapeList(ctx context.Context, job *models.Job) error {
	session, release, err := a.openSession(ctx, job.UserID)
	if err != nil {
		return err
	}
	defer release()

	result, err := a.Scraper.RunListScrape(ctx, a.Driver, a.Repository, session, job.UserID)
	if err != nil {
		return err
	}

	job.Result = map[string]interface{}{
		"found":    result.Found,
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"deleted":  result.Deleted,
	}

	if err := a.enqueueTriggeredDispenserScrapes(ctx, job.UserID); err != nil {
		a.Logger.Warn().Err(err).Str("user_id", job.UserID).Msg("app: failed to enqueue triggered dispenser scrapes")
	}
	return nil
}

// enqueueTriggeredDispenserScrapes enqueues one scrape_dispensers job
// per work order whose service code requires it and that has no
// dispensers recorded yet (spec §4.4.3 batch trigger rule).
func (a *App) enqueueTriggeredDispenserScrapes(ctx context.Context, userID string) error {
	candidates, err := scraperBatchCandidates(ctx, a.Repository, userID)
	if err != nil {
		return err
	}
	for _, wo := range candidates {
		existing, err := a.Repository.DispensersForWorkOrder(ctx, wo.ID)
		if err == nil && len(existing) > 0 {
			continue
		}
		_ = a.Queue.Enqueue(ctx, &models.Job{
			UserID:   userID,
			Kind:     models.JobKindScrapeDispensers,
			Priority: models.PriorityNormal,
			Payload:  map[string]interface{}{"work_order_id": wo.ID},
			Resources: models.ResourceRequirement{Sessions: 1, MemoryMB: 512},
		})
	}
	return nil
}

// handleScrapeDispensers drives C5's per-work-order dispenser scrape
// (spec §4.4.2, §6 POST /work-orders/{id}/scrape-dispensers).
func (a *App) handleScrapeDispensers(ctx context.Context, job *models.Job) error {
	workOrderID := payloadString(job.Payload, "work_order_id")
	if workOrderID == "" {
		return fmt.Errorf("scrape_dispensers job %s: missing work_order_id", job.JobID)
	}

	forceRefresh := payloadBool(job.Payload, "force_refresh")
	wo, err := a.Repository.FindWorkOrder(ctx, workOrderID, job.UserID)
	if err != nil {
		return fmt.Errorf("scrape_dispensers: %w", err)
	}
	if !forceRefresh {
		if existing, err := a.Repository.DispensersForWorkOrder(ctx, workOrderID); err == nil && len(existing) > 0 {
			job.Result = map[string]interface{}{"dispenser_count": len(existing), "skipped": true}
			return nil
		}
	}

	session, release, err := a.openSession(ctx, job.UserID)
	if err != nil {
		return err
	}
	defer release()

	if err := a.Driver.GoToCustomer(ctx, session, wo.CustomerURL); err != nil {
		return fmt.Errorf("scrape_dispensers: %w", err)
	}

	dispensers, err := a.Scraper.RunDispenserScrape(ctx, session, wo, a.Repository)
	if err != nil {
		return err
	}
	job.Result = map[string]interface{}{"dispenser_count": len(dispensers)}
	return nil
}

// handleRunForm drives a single-dispenser form automation (spec §4.5,
// §6 POST /automation/form/process-visit).
func (a *App) handleRunForm(ctx context.Context, job *models.Job) error {
	run, err := a.buildRunFromPayload(ctx, job)
	if err != nil {
		return err
	}

	session, release, err := a.openSession(ctx, job.UserID)
	if err != nil {
		return err
	}
	defer release()

	return a.FormEngine.RunOne(ctx, session, job.JobID, run)
}

// handleRunBatch drives a multi-visit batch form run as one logical
// job with per-item progress events (spec §4.5 "batch run holds a
// single logical job", §6 POST /automation/form/process-batch).
func (a *App) handleRunBatch(ctx context.Context, job *models.Job) error {
	workOrderIDs, _ := job.Payload["work_order_ids"].([]interface{})
	if len(workOrderIDs) == 0 {
		return fmt.Errorf("run_batch job %s: missing work_order_ids", job.JobID)
	}

	session, release, err := a.openSession(ctx, job.UserID)
	if err != nil {
		return err
	}
	defer release()

	runs := make([]formengine.Run, 0, len(workOrderIDs))
	for _, raw := range workOrderIDs {
		id, ok := raw.(string)
		if !ok {
			continue
		}
		wo, err := a.Repository.FindWorkOrder(ctx, id, job.UserID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("work_order_id", id).Msg("app: skipping unresolvable work order in batch")
			continue
		}
		dispensers, err := a.Repository.DispensersForWorkOrder(ctx, id)
		if err != nil {
			continue
		}
		for _, d := range dispensers {
			runs = append(runs, formengine.Run{
				Dispenser: d,
				VisitURL:  wo.VisitURL,
				Template:  formengine.SelectTemplate(d.FuelGrades),
				Values:    formengine.DefaultTestValues(),
			})
		}
	}

	cfg := formengine.DefaultBatchConfig()
	results := a.FormEngine.RunBatch(ctx, session, job.JobID, runs, cfg)

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
	}
	job.Result = map[string]interface{}{"total": len(results), "failures": failures}
	if failures > 0 && failures == len(results) {
		return fmt.Errorf("run_batch job %s: all %d items failed", job.JobID, failures)
	}
	return nil
}

func (a *App) buildRunFromPayload(ctx context.Context, job *models.Job) (formengine.Run, error) {
	workOrderID := payloadString(job.Payload, "work_order_id")
	dispenserID := payloadString(job.Payload, "dispenser_id")
	if workOrderID == "" || dispenserID == "" {
		return formengine.Run{}, fmt.Errorf("run_form job %s: missing work_order_id or dispenser_id", job.JobID)
	}

	wo, err := a.Repository.FindWorkOrder(ctx, workOrderID, job.UserID)
	if err != nil {
		return formengine.Run{}, fmt.Errorf("run_form: %w", err)
	}
	dispensers, err := a.Repository.DispensersForWorkOrder(ctx, workOrderID)
	if err != nil {
		return formengine.Run{}, fmt.Errorf("run_form: %w", err)
	}
	var dispenser *models.Dispenser
	for _, d := range dispensers {
		if d.ID == dispenserID {
			dispenser = d
			break
		}
	}
	if dispenser == nil {
		return formengine.Run{}, fmt.Errorf("run_form: dispenser %s not found on work order %s", dispenserID, workOrderID)
	}

	return formengine.Run{
		Dispenser: dispenser,
		VisitURL:  wo.VisitURL,
		Template:  formengine.SelectTemplate(dispenser.FuelGrades),
		Values:    formengine.DefaultTestValues(),
	}, nil
}

func scraperBatchCandidates(ctx context.Context, repo repository.Repository, userID string) ([]*models.WorkOrder, error) {
	all, _, err := repo.FindWorkOrders(ctx, userID, repository.WorkOrderFilters{}, repository.Pagination{})
	if err != nil {
		return nil, err
	}
	var out []*models.WorkOrder
	for _, wo := range all {
		if wo.ServiceCode.TriggersDispenserScrape() {
			out = append(out, wo)
		}
	}
	return out, nil
}
