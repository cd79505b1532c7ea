package formengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectTemplate_MatchesKnownSignatures(t *testing.T) {
	require.Equal(t, TemplateRegularPlusPremium, SelectTemplate([]string{"Regular", "Plus", "Premium"}))
	require.Equal(t, TemplateRegularPlusPremiumDiesel, SelectTemplate([]string{"Regular", "Plus", "Premium", "Diesel"}))
}

func TestSelectTemplate_FallsBackToCustom(t *testing.T) {
	require.Equal(t, TemplateCustom, SelectTemplate([]string{"Regular", "Exotic Blend"}))
}

func TestDefaultTestValues_MatchesSpecDefaults(t *testing.T) {
	v := DefaultTestValues()
	require.Equal(t, 70.0, v.TemperatureF)
	require.Equal(t, 5.00, v.VolumeGallons)
	require.Equal(t, 0.00, v.ErrorPercent)
}
