package models

// CanonicalFuelGrades defines the display/template ordering fuel grades
// are normalized to (spec §4.4.2). Grades not present in this list sort
// after all known grades, in encounter order.
var CanonicalFuelGrades = []string{
	"Regular",
	"Plus",
	"Premium",
	"Midgrade",
	"Diesel",
	"Ethanol-Free Regular",
	"Ethanol-Free Plus",
	"Ethanol-Free Premium",
	"Ethanol-Free Gasoline Plus",
	"Super",
}

// knownManufacturers is the closed set of manufacturer names the
// dispenser extractor can infer Make from when no explicit label is
// present (spec §4.4.2).
var knownManufacturers = []string{"Gilbarco", "Wayne", "Dresser", "Tokheim", "Bennett"}

// KnownManufacturers returns the closed manufacturer set used for Make
// inference.
func KnownManufacturers() []string {
	out := make([]string, len(knownManufacturers))
	copy(out, knownManufacturers)
	return out
}

// ScrapedDataBlob is the versioned, typed replacement for the open-ended
// "scraped_data" extras map called out in spec §9 DESIGN NOTES. Persisted
// as a single JSON blob column alongside Dispenser.
type ScrapedDataBlob struct {
	SchemaVersion   int               `json:"schema_version"`
	StandAloneCode  string            `json:"stand_alone_code,omitempty"`
	NumberOfNozzles string            `json:"number_of_nozzles,omitempty"`
	MeterType       string            `json:"meter_type,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// CurrentScrapedDataSchemaVersion is bumped whenever ScrapedDataBlob's
// shape changes in a way that readers must branch on.
const CurrentScrapedDataSchemaVersion = 1

// NewScrapedDataBlob returns an empty, current-version blob.
func NewScrapedDataBlob() ScrapedDataBlob {
	return ScrapedDataBlob{SchemaVersion: CurrentScrapedDataSchemaVersion, Extra: map[string]string{}}
}

// Dispenser is a fuel-dispensing device at a site, 1-N per work order
// (spec §3, GLOSSARY). WorkOrderID must reference an existing work
// order; Numbers preserves display ordering (spec §3 invariants).
type Dispenser struct {
	ID          string   `json:"id"`
	WorkOrderID string   `json:"work_order_id"`
	Number      string   `json:"number"` // e.g. "1/2"
	Numbers     []string `json:"numbers"`

	Title        string `json:"title,omitempty"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`

	FuelGrades   []string        `json:"fuel_grades"`
	CustomFields ScrapedDataBlob `json:"custom_fields"`
}
