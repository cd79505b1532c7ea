package server

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// credentialRequest is the body for POST /credentials/{service} (spec
// §6). Validated with go-playground/validator struct tags, matching
// the pack's validator usage.
type credentialRequest struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// statusUpdateRequest is the body for PATCH /work-orders/{id}/status.
type statusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=pending in_progress completed failed cancelled"`
}

// batchDispenserScrapeRequest is the body for
// POST /work-orders/scrape-dispensers-batch.
type batchDispenserScrapeRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// processVisitRequest is the body for POST /automation/form/process-visit.
type processVisitRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	WorkOrderID string `json:"work_order_id" validate:"required"`
	DispenserID string `json:"dispenser_id" validate:"required"`
	Priority    int    `json:"priority" validate:"gte=0,lte=3"`
}

// processBatchRequest is the body for POST /automation/form/process-batch.
type processBatchRequest struct {
	UserID       string   `json:"user_id" validate:"required"`
	WorkOrderIDs []string `json:"work_order_ids" validate:"required,min=1"`
}

func validateBody(v interface{}) error {
	return validate.Struct(v)
}
