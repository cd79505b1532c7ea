package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/fossawork/dispatcher/internal/models"
)

// dispenserTitlePattern matches "<num>[/<num>] - <grades> - <make>"
// (spec §4.4.2 title pattern). The make is the single word after the
// second dash, so labeled fields that follow the title are not part
// of it.
var dispenserTitlePattern = regexp.MustCompile(`^([\d/]+)\s*-\s*(.+?)\s*-\s*(\S+)`)

var serialPattern = regexp.MustCompile(`S/N:\s*([A-Z0-9]+)`)
var standAloneCodePattern = regexp.MustCompile(`(?i)STAND ALONE CODE:?\s*([A-Za-z0-9\-]+)`)
var nozzleCountPattern = regexp.MustCompile(`(?i)NUMBER OF NOZZLES:?\s*(\d+)`)
var meterTypePattern = regexp.MustCompile(`(?i)METER TYPE:?\s*([A-Za-z0-9 \-]+?)(?:\s{2,}|$)`)

// dispenserContainerSelectors is the structural-container strategy
// tried first (spec §4.4.2 "three extraction strategies").
var dispenserContainerSelectors = []string{
	".dispenser-item",
	".equipment-dispenser",
}

// ExtractDispensers navigates to customerURL, opens the Equipment tab
// and the Dispenser section, then parses each dispenser container
// (spec §4.4.2). The three extraction strategies are tried in order;
// the first yielding at least one dispenser wins.
func (s *Scraper) ExtractDispensers(ctx context.Context, session *models.Session, customerURL string) ([]*models.Dispenser, *Diagnostic, error) {
	navCtx, cancel := context.WithTimeout(session.Ctx, 30*time.Second)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(customerURL)); err != nil {
		return nil, nil, fmt.Errorf("extract dispensers: navigation failed: %w", err)
	}

	if err := openEquipmentTab(navCtx); err != nil {
		s.logger.Debug().Err(err).Msg("scraper: equipment tab not found by label match")
	}
	if err := expandDispenserSection(navCtx); err != nil {
		s.logger.Debug().Err(err).Msg("scraper: dispenser section already expanded or header not found")
	}

	if err := waitForDispenserMarkers(navCtx); err != nil {
		var html, title string
		_ = chromedp.Run(navCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery), chromedp.Title(&title))
		return nil, &Diagnostic{URL: customerURL, PageTitle: title}, nil
	}

	var html string
	if err := chromedp.Run(navCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, nil, fmt.Errorf("extract dispensers: failed to capture DOM: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("extract dispensers: failed to parse DOM: %w", err)
	}

	if dispensers := extractByContainer(doc); len(dispensers) > 0 {
		return dispensers, nil, nil
	}
	if dispensers := extractByTitlePattern(doc); len(dispensers) > 0 {
		return dispensers, nil, nil
	}
	if dispensers := extractByLabeledField(doc); len(dispensers) > 0 {
		return dispensers, nil, nil
	}

	return nil, &Diagnostic{URL: customerURL}, nil
}

// openEquipmentTab clicks the first element whose text matches
// "Equipment" (case-insensitive, spec §4.4.2 step 2). BySearch
// performs a DevTools-style find-in-page match across any clickable
// element, so this does not depend on a specific tag or class.
func openEquipmentTab(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.Click("Equipment", chromedp.BySearch))
}

func expandDispenserSection(ctx context.Context) error {
	var alreadyExpanded bool
	_ = chromedp.Run(ctx, chromedp.Evaluate(
		`/S\/N:/.test(document.body.innerText) || `+manufacturerJSCheck(),
		&alreadyExpanded,
	))
	if alreadyExpanded {
		return nil
	}
	return chromedp.Run(ctx, chromedp.Click(`//*[contains(text(), 'Dispenser')]`, chromedp.BySearch))
}

func manufacturerJSCheck() string {
	parts := make([]string, 0, len(models.KnownManufacturers()))
	for _, m := range models.KnownManufacturers() {
		parts = append(parts, fmt.Sprintf("document.body.innerText.includes(%q)", m))
	}
	return strings.Join(parts, " || ")
}

func waitForDispenserMarkers(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitVisible(
		`//*[contains(text(), 'S/N:') or contains(text(), 'Make:')]`, chromedp.BySearch,
	))
}

func extractByContainer(doc *goquery.Document) []*models.Dispenser {
	var out []*models.Dispenser
	for _, sel := range dispenserContainerSelectors {
		doc.Find(sel).Each(func(_ int, container *goquery.Selection) {
			if d := parseDispenserText(container.Text()); d != nil {
				out = append(out, d)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return out
}

func extractByTitlePattern(doc *goquery.Document) []*models.Dispenser {
	var out []*models.Dispenser
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		if dispenserTitlePattern.MatchString(title) && len(title) < 200 {
			if d := parseDispenserText(title); d != nil {
				out = append(out, d)
			}
		}
	})
	return dedupeDispensersByNumber(out)
}

func extractByLabeledField(doc *goquery.Document) []*models.Dispenser {
	text := doc.Find("body").Text()
	if d := parseDispenserText(text); d != nil {
		return []*models.Dispenser{d}
	}
	return nil
}

func dedupeDispensersByNumber(in []*models.Dispenser) []*models.Dispenser {
	seen := make(map[string]bool)
	var out []*models.Dispenser
	for _, d := range in {
		if seen[d.Number] {
			continue
		}
		seen[d.Number] = true
		out = append(out, d)
	}
	return out
}

// parseDispenserText parses one dispenser's text content into a
// Dispenser record via title pattern + labeled-field regexes (spec
// §4.4.2 steps 5a-5e).
func parseDispenserText(text string) *models.Dispenser {
	text = strings.Join(strings.Fields(text), " ")

	d := &models.Dispenser{CustomFields: models.NewScrapedDataBlob()}

	if m := dispenserTitlePattern.FindStringSubmatch(text); len(m) == 4 {
		d.Title = strings.TrimSpace(m[0])
		d.Number = m[1]
		d.Numbers = strings.Split(m[1], "/")
		d.FuelGrades = canonicalizeGrades(splitGrades(m[2]))
		d.Make = strings.TrimSpace(m[3])
	}

	if m := serialPattern.FindStringSubmatch(text); len(m) == 2 {
		d.SerialNumber = m[1]
	}
	if m := standAloneCodePattern.FindStringSubmatch(text); len(m) == 2 {
		d.CustomFields.StandAloneCode = strings.TrimSpace(m[1])
	}
	if m := nozzleCountPattern.FindStringSubmatch(text); len(m) == 2 {
		d.CustomFields.NumberOfNozzles = m[1]
	}
	if m := meterTypePattern.FindStringSubmatch(text); len(m) == 2 {
		d.CustomFields.MeterType = strings.TrimSpace(m[1])
	}

	if d.Make == "" {
		for _, known := range models.KnownManufacturers() {
			if strings.Contains(text, known) {
				d.Make = known
				break
			}
		}
	}

	if d.Title == "" && d.SerialNumber == "" && d.Make == "" {
		return nil
	}
	return d
}

func splitGrades(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// canonicalizeGrades reorders grades to match models.CanonicalFuelGrades,
// appending any unrecognized grade after all known ones, in encounter
// order (spec §4.4.2 "normalized by a canonical fuel-grade ordering").
func canonicalizeGrades(grades []string) []string {
	rank := make(map[string]int, len(models.CanonicalFuelGrades))
	for i, g := range models.CanonicalFuelGrades {
		rank[g] = i
	}

	type indexed struct {
		grade string
		rank  int
	}
	ordered := make([]indexed, len(grades))
	for i, g := range grades {
		r, ok := rank[g]
		if !ok {
			r = len(models.CanonicalFuelGrades) + i
		}
		ordered[i] = indexed{grade: g, rank: r}
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].rank < ordered[j-1].rank; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	out := make([]string, len(ordered))
	for i, e := range ordered {
		out[i] = e.grade
	}
	return out
}
