package models

import "time"

// ErrorKind is the error taxonomy classified errors are bucketed into
// (spec §4.7).
type ErrorKind string

const (
	ErrorKindNetwork         ErrorKind = "network"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindAuthentication  ErrorKind = "authentication"
	ErrorKindPageLoad        ErrorKind = "page_load"
	ErrorKindElementNotFound ErrorKind = "element_not_found"
	ErrorKindFormSubmission  ErrorKind = "form_submission"
	ErrorKindScraping        ErrorKind = "scraping"
	ErrorKindBrowserCrash    ErrorKind = "browser_crash"
	ErrorKindCredential      ErrorKind = "credential"
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// RecoveryAction is the action a recovery strategy selects (spec §4.7).
type RecoveryAction string

const (
	ActionRetryImmediate      RecoveryAction = "retry_immediate"
	ActionRetryWithDelay      RecoveryAction = "retry_with_delay"
	ActionRetryWithRefresh    RecoveryAction = "retry_with_refresh"
	ActionRetryWithNewSession RecoveryAction = "retry_with_new_session"
	ActionRetryWithAlternative RecoveryAction = "retry_with_alternative"
	ActionSkipAndContinue     RecoveryAction = "skip_and_continue"
	ActionAbort               RecoveryAction = "abort"
	ActionEscalateManual      RecoveryAction = "escalate_manual"
)

// RecoveryContext carries the diagnostic detail recorded for every
// classified failure (spec §3).
type RecoveryContext struct {
	ErrorID       string    `json:"error_id"`
	ErrorKind     ErrorKind `json:"error_kind"`
	Operation     string    `json:"operation"`
	SessionID     string    `json:"session_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	Stack         string    `json:"stack,omitempty"`
}

// ScrapingHistoryRecord is one append-only row of the scraping history
// log (spec §6 Persisted state).
type ScrapingHistoryRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ScheduleType string    `json:"schedule_type"`
	Started      time.Time `json:"started"`
	Completed    time.Time `json:"completed"`
	Success      bool      `json:"success"`
	ItemsFound   int       `json:"items_found"`
	ItemsCreated int       `json:"items_created"`
	ItemsUpdated int       `json:"items_updated"`
	ItemsDeleted int       `json:"items_deleted"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
	TriggerType  string    `json:"trigger_type"`
}
