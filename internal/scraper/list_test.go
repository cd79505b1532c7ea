package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestParseWorkOrderRow_ExtractsFieldsTolerantly(t *testing.T) {
	html := `<table><tbody>
		<tr class="work-order-row">
			<td>W-102938</td>
			<td>123 Main St</td>
			<td>2861</td>
			<td>Scheduled: January 5, 2026</td>
			<td><a href="/visits/102938">Visit</a></td>
			<td><a href="/customers/locations/55">Customer</a></td>
		</tr>
	</tbody></table>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	row := doc.Find("tr.work-order-row").First()
	wo, err := parseWorkOrderRow(row, "user-1")
	require.NoError(t, err)
	require.Equal(t, "W-102938", wo.ExternalID)
	require.Equal(t, "123 Main St", wo.Address.Street)
	require.Equal(t, "2861", string(wo.ServiceCode))
	require.Equal(t, "/visits/102938", wo.VisitURL)
	require.Equal(t, "/customers/locations/55", wo.CustomerURL)
	require.Equal(t, 2026, wo.ScheduledDate.Year())
}

// TestExtractStreetAddress_RejectsWorkOrderLikeNumericPrefix covers
// the false-positive filter: a numeric prefix followed by a service
// keyword must never be mistaken for a street address.
func TestExtractStreetAddress_RejectsWorkOrderLikeNumericPrefix(t *testing.T) {
	text := "12345 Meter Calibration visit scheduled, 789 Oak Ave is the real address"
	addr := extractStreetAddress(text)
	require.Equal(t, "789 Oak Ave", addr.Street)
}

// TestExtractStreetAddress_RejectsFullKeywordSet covers every keyword
// in §8.4 property 4 (Meter, Calibration, Service, Inspection,
// Quality, Test), not just the two the earlier pattern recognized.
func TestExtractStreetAddress_RejectsFullKeywordSet(t *testing.T) {
	for _, keyword := range []string{"Meter", "Calibration", "Service", "Inspection", "Quality", "Test"} {
		text := "12345 " + keyword + " visit scheduled, 789 Oak Ave is the real address"
		addr := extractStreetAddress(text)
		require.Equal(t, "789 Oak Ave", addr.Street, "keyword %q should have been rejected as a false positive", keyword)
	}
}

// TestExtractStreetAddress_RejectsServiceRoadWithNoFallback covers the
// exact false-positive shape from §8.4: "12345 Service Rd" parses as
// an address-shaped string but must be filtered, leaving no street
// when nothing else in the text looks like a real address.
func TestExtractStreetAddress_RejectsServiceRoadWithNoFallback(t *testing.T) {
	addr := extractStreetAddress("12345 Service Rd")
	require.Empty(t, addr.Street)
}

func TestFilterByIdentifier_DropsHeaderRows(t *testing.T) {
	html := `<table><tbody>
		<tr><th>ID</th><th>Address</th></tr>
		<tr><td>W-1</td><td>1 First St</td></tr>
	</tbody></table>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	rows := doc.Find("tr")
	candidates := filterByIdentifier(rows)
	require.Len(t, candidates, 1)
}
