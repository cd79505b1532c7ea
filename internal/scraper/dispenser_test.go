package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDispenserText_TitlePattern(t *testing.T) {
	text := "1/2 - Regular, Diesel, Plus - Gilbarco   S/N: AB12345   STAND ALONE CODE: SAC-9   NUMBER OF NOZZLES: 4   METER TYPE: Electronic"

	d := parseDispenserText(text)
	require.NotNil(t, d)
	require.Equal(t, "1/2", d.Number)
	require.Equal(t, []string{"1", "2"}, d.Numbers)
	require.Equal(t, "Gilbarco", d.Make)
	require.Equal(t, "AB12345", d.SerialNumber)
	require.Equal(t, "SAC-9", d.CustomFields.StandAloneCode)
	require.Equal(t, "4", d.CustomFields.NumberOfNozzles)
	require.Equal(t, []string{"Regular", "Plus", "Diesel"}, d.FuelGrades)
}

func TestParseDispenserText_MakeInferredFromKnownManufacturer(t *testing.T) {
	text := "S/N: XYZ999 unit manufactured by Wayne with no explicit make label"
	d := parseDispenserText(text)
	require.NotNil(t, d)
	require.Equal(t, "Wayne", d.Make)
}

func TestParseDispenserText_NoSignal_ReturnsNil(t *testing.T) {
	d := parseDispenserText("just some unrelated page text")
	require.Nil(t, d)
}

func TestCanonicalizeGrades_OrdersByCanonicalSequenceAndAppendsUnknown(t *testing.T) {
	out := canonicalizeGrades([]string{"Diesel", "Regular", "Exotic Blend", "Plus"})
	require.Equal(t, []string{"Regular", "Plus", "Diesel", "Exotic Blend"}, out)
}
