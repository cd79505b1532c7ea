package models

import "time"

// ProgressEvent is one phase/percentage/message update published on the
// progress bus for a job (spec §3, §4.6).
type ProgressEvent struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id,omitempty"`
	Phase        string    `json:"phase"`
	Percentage   float64   `json:"percentage"`
	Message      string    `json:"message"`
	DispenserID  string    `json:"dispenser_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// WSFrameType enumerates the WebSocket frame "type" values the progress
// bus's transport adapter emits (spec §6).
type WSFrameType string

const (
	WSAutomationProgress         WSFrameType = "automation_progress"
	WSEnhancedScrapingProgress   WSFrameType = "enhanced_scraping_progress"
	WSScrapingProgress           WSFrameType = "scraping_progress"
	WSFormAutomationProgress     WSFrameType = "form_automation_progress"
	WSBatchAutomationProgress    WSFrameType = "batch_automation_progress"
	WSAutomationComplete         WSFrameType = "automation_complete"
	WSAutomationError            WSFrameType = "automation_error"
	WSQueueEvent                 WSFrameType = "queue_event"
	WSPong                       WSFrameType = "pong"
)

// WSFrame is the envelope pushed to WebSocket clients.
type WSFrame struct {
	Type WSFrameType `json:"type"`
	Data interface{} `json:"data"`
}
