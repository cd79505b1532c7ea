package models

import "time"

// ServiceCode identifies the work-type code that determines whether a
// work order triggers dispenser-detail scraping (spec §3, GLOSSARY).
type ServiceCode string

const (
	ServiceCode2861 ServiceCode = "2861"
	ServiceCode2862 ServiceCode = "2862"
	ServiceCode3146 ServiceCode = "3146"
	ServiceCode3002 ServiceCode = "3002"
)

// TriggersDispenserScrape reports whether this service code requires a
// follow-on dispenser-detail scrape of the work order's customer page.
func (c ServiceCode) TriggersDispenserScrape() bool {
	switch c {
	case ServiceCode2861, ServiceCode2862, ServiceCode3146, ServiceCode3002:
		return true
	default:
		return false
	}
}

// WorkOrderStatus is the lifecycle status of a work order record.
type WorkOrderStatus string

const (
	WorkOrderStatusPending    WorkOrderStatus = "pending"
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress"
	WorkOrderStatusCompleted  WorkOrderStatus = "completed"
	WorkOrderStatusFailed     WorkOrderStatus = "failed"
	WorkOrderStatusCancelled  WorkOrderStatus = "cancelled"
)

// Address is the street/city/county location of a work order's site.
type Address struct {
	Street    string `json:"street"`
	CityState string `json:"city_state"`
	County    string `json:"county"`
}

// WorkOrder is a scheduled service task at a customer site (spec §3,
// GLOSSARY). ExternalID is unique per user; VisitURL and CustomerURL
// are distinct semantic targets and must never be equal (spec §3, §8.3).
type WorkOrder struct {
	ID          string      `json:"id"`
	ExternalID  string      `json:"external_id"`
	UserID      string      `json:"user_id"`
	SiteName    string      `json:"site_name"`
	Address     Address     `json:"address"`
	StoreNumber string      `json:"store_number"`
	ServiceCode ServiceCode `json:"service_code"`

	ServiceItems  []string        `json:"service_items"`
	ScheduledDate time.Time       `json:"scheduled_date"`
	Status        WorkOrderStatus `json:"status"`

	VisitURL    string `json:"visit_url,omitempty"`
	CustomerURL string `json:"customer_url,omitempty"`
	Instructions string `json:"instructions,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the identity used for reconciliation and storage lookups:
// a work order is unique per (UserID, ExternalID).
func (w *WorkOrder) Key() string {
	return w.UserID + "|" + w.ExternalID
}
