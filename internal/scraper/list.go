// Package scraper implements the Scraper (C5, spec §4.4): list and
// dispenser extraction over a logged-in session's rendered DOM, each
// as a tolerant multi-strategy state machine, plus the reconciliation
// orchestration that replays a list scrape's results against the
// repository. Grounded on the teacher's hybrid_scraper.go (render via
// chromedp, parse the captured HTML with goquery) combined with the
// PuerkitoBio/goquery selector idiom used across the pack.
package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

// workOrderIDPattern recognizes a work-order identifier, used both to
// pick the winning row-candidate pattern and to filter header rows
// (spec §4.4.1 step 1).
var workOrderIDPattern = regexp.MustCompile(`\bW-\d+\b`)

// streetAddressFalsePositive matches a work-order-identifier-looking
// numeric prefix followed by a service keyword, which must be
// rejected when looking for a street address (spec §4.4.1 step 2,
// §8.4 property 4: no extracted street begins with a >=5-digit
// integer followed by one of Meter, Calibration, Service, Inspection,
// Quality, Test).
var streetAddressFalsePositive = regexp.MustCompile(`(?i)^\d{5,}.*(meter|calibration|service|inspection|quality|test)`)

// rowCandidateSelectors is the ordered list of structural patterns
// tried to enumerate work-order rows (spec §4.4.1 step 1): the first
// pattern yielding at least one row with a recognizable identifier
// wins.
var rowCandidateSelectors = []string{
	".work-order-row",
	"table tbody tr",
	".card",
}

// Diagnostic is the structured failure report returned when no rows
// matched at all (spec §4.4.1 "list-level failures").
type Diagnostic struct {
	URL           string
	PageTitle     string
	ElementCounts map[string]int
}

// ListResult is the outcome of a list extraction attempt.
type ListResult struct {
	WorkOrders []*models.WorkOrder
	Diagnostic *Diagnostic
}

// Scraper drives extraction over a session's live page.
type Scraper struct {
	logger arbor.ILogger
}

// New constructs a Scraper.
func New(logger arbor.ILogger) *Scraper {
	return &Scraper{logger: logger}
}

// ExtractList extracts the ordered work-order list from the session's
// currently-rendered list page (spec §4.4.1). The session must already
// be positioned on the list view (driver.GoToList).
func (s *Scraper) ExtractList(ctx context.Context, session *models.Session, userID string) (ListResult, error) {
	html, title, err := renderOuterHTML(ctx, session)
	if err != nil {
		return ListResult{}, fmt.Errorf("extract list: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ListResult{}, fmt.Errorf("extract list: failed to parse DOM: %w", err)
	}

	counts := make(map[string]int)
	for _, sel := range rowCandidateSelectors {
		rows := doc.Find(sel)
		counts[sel] = rows.Length()

		candidates := filterByIdentifier(rows)
		if len(candidates) == 0 {
			continue
		}

		workOrders := make([]*models.WorkOrder, 0, len(candidates))
		for _, row := range candidates {
			wo, err := parseWorkOrderRow(row, userID)
			if err != nil {
				s.logger.Debug().Err(err).Msg("scraper: row-level extraction error, skipping row")
				continue
			}
			workOrders = append(workOrders, wo)
		}
		if len(workOrders) > 0 {
			return ListResult{WorkOrders: workOrders}, nil
		}
	}

	return ListResult{Diagnostic: &Diagnostic{PageTitle: title, ElementCounts: counts}}, nil
}

// filterByIdentifier keeps only rows whose text contains a recognizable
// work-order identifier, filtering out header rows (spec §4.4.1 step 1).
func filterByIdentifier(rows *goquery.Selection) []*goquery.Selection {
	var out []*goquery.Selection
	rows.Each(func(_ int, row *goquery.Selection) {
		if workOrderIDPattern.MatchString(row.Text()) {
			sel := row
			out = append(out, sel)
		}
	})
	return out
}

var (
	serviceCodePattern   = regexp.MustCompile(`\b(2861|2862|3146|3002)\b`)
	scheduledDatePattern = regexp.MustCompile(`(?i)(?:NEXT VISIT|Scheduled:)\s*([A-Za-z]+ \d{1,2}(?:,? \d{4})?)`)
)

// parseWorkOrderRow extracts one WorkOrder from a candidate row by
// tolerant label-then-regex parsing (spec §4.4.1 step 2-4).
func parseWorkOrderRow(row *goquery.Selection, userID string) (*models.WorkOrder, error) {
	text := strings.Join(strings.Fields(row.Text()), " ")

	extID := workOrderIDPattern.FindString(text)
	if extID == "" {
		return nil, fmt.Errorf("row has no work-order identifier")
	}

	wo := &models.WorkOrder{
		UserID:     userID,
		ExternalID: extID,
		Status:     models.WorkOrderStatusPending,
	}

	if m := serviceCodePattern.FindString(text); m != "" {
		wo.ServiceCode = models.ServiceCode(m)
	}

	wo.Address = extractStreetAddress(text)

	if visitURL, ok := findRowLink(row, "/visits/", "/customers/locations/"); ok {
		wo.VisitURL = visitURL
	}
	if customerURL, ok := findRowLink(row, "/customers/locations/", "/visits/"); ok {
		wo.CustomerURL = customerURL
	}

	if m := scheduledDatePattern.FindStringSubmatch(text); len(m) == 2 {
		if parsed, ok := parseFlexibleDate(m[1]); ok {
			wo.ScheduledDate = parsed
		}
	}

	return wo, nil
}

// extractStreetAddress finds a plausible street address token in text,
// rejecting numeric prefixes that look like work-order service
// identifiers rather than house numbers (spec §4.4.1 step 2).
func extractStreetAddress(text string) models.Address {
	addrPattern := regexp.MustCompile(`\b\d{1,5}\s+[A-Za-z0-9.'\- ]{3,40}\b(?:St|Ave|Rd|Blvd|Dr|Ln|Way|Hwy)\.?`)
	for _, m := range addrPattern.FindAllString(text, -1) {
		if streetAddressFalsePositive.MatchString(m) {
			continue
		}
		return models.Address{Street: strings.TrimSpace(m)}
	}
	return models.Address{}
}

// findRowLink returns the first href in row containing mustContain and
// not containing mustNotContain (spec §4.4.1 step 3).
func findRowLink(row *goquery.Selection, mustContain, mustNotContain string) (string, bool) {
	var found string
	row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.Contains(href, mustContain) && !strings.Contains(href, mustNotContain) {
			found = href
			return false
		}
		return true
	})
	return found, found != ""
}

// parseFlexibleDate parses "January 5, 2026" / "January 5" style
// dates, defaulting the year to the current year when absent (spec
// §4.4.1 step 4).
func parseFlexibleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	layouts := []string{"January 2, 2006", "Jan 2, 2006", "January 2", "Jan 2"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() == 0 {
				t = time.Date(time.Now().Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// renderOuterHTML captures the document's outer HTML and title from
// the session's live page for offline DOM parsing.
func renderOuterHTML(ctx context.Context, session *models.Session) (html, title string, err error) {
	navCtx, cancel := context.WithTimeout(session.Ctx, 15*time.Second)
	defer cancel()
	err = chromedp.Run(navCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Title(&title),
	)
	return html, title, err
}
