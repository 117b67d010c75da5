package conversation

import (
	"testing"

	"immo-alerts/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPropertyType(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.PropertyType
		ok   bool
	}{
		{"house keyword", "Je cherche une maison", models.PropertyHouse, true},
		{"villa", "villa avec jardin", models.PropertyHouse, true},
		{"apartment short form", "un appart", models.PropertyApartment, true},
		{"studio", "Studio", models.PropertyApartment, true},
		{"both keyword", "les deux", models.PropertyBoth, true},
		{"both types named", "maison ou appartement", models.PropertyBoth, true},
		{"menu choice 1", "1", models.PropertyHouse, true},
		{"menu choice 2", " 2. ", models.PropertyApartment, true},
		{"menu choice 3", "3", models.PropertyBoth, true},
		{"unknown", "un bateau", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyPropertyType(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		min, max float64
		ok       bool
	}{
		{"single number", "250000", 150000, 250000, true},
		{"single with max keyword", "max 300000", 0, 300000, true},
		{"jusqu'à", "jusqu'à 200 000 €", 0, 200000, true},
		{"two numbers ordered", "entre 200000 et 300000", 200000, 300000, true},
		{"two numbers reversed", "300000 - 200000", 200000, 300000, true},
		{"k suffix", "200k à 300k", 200000, 300000, true},
		{"M suffix with comma", "max 1,2M", 0, 1200000, true},
		{"grouped thousands", "250 000", 150000, 250000, true},
		{"dotted thousands", "250.000 euros", 150000, 250000, true},
		{"small bare number means thousands", "entre 200 et 300k", 200000, 300000, true},
		{"room count ignored", "budget 250000 euros max 3 pièces", 0, 250000, true},
		{"surface ignored", "300k pour 90 m²", 180000, 300000, true},
		{"apartment type ignored", "T3 entre 200k et 250k", 200000, 250000, true},
		{"only a room count", "4 chambres", 0, 0, false},
		{"no numbers", "je ne sais pas", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			min, max, ok := ParsePrice(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.min, min, 0.01)
			assert.InDelta(t, tt.max, max, 0.01)
		})
	}
}

func TestParseLocations(t *testing.T) {
	assert.Equal(t, []string{"Lyon"}, ParseLocations("Lyon"))
	assert.Equal(t, []string{"Lyon", "Villeurbanne", "Bron"}, ParseLocations(" Lyon , Villeurbanne; Bron "))
	assert.Equal(t, []string{"Paris", "Nice"}, ParseLocations("Paris/Nice/paris"))
	assert.Equal(t, []string{"Lyon"}, ParseLocations("69 - Lyon - a"), "tokens of two characters or fewer are dropped")
	assert.Empty(t, ParseLocations(" , ; "))
}

func TestFirstIntAndNoPreference(t *testing.T) {
	n, ok := FirstInt("au moins 3 pièces")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = FirstInt("80 m2")
	assert.True(t, ok)
	assert.Equal(t, 80, n)

	_, ok = FirstInt("pas important")
	assert.False(t, ok)

	assert.True(t, IsNoPreference("Pas important"))
	assert.True(t, IsNoPreference("peu importe"))
	assert.True(t, IsNoPreference("-"))
	assert.False(t, IsNoPreference("grand"))
}

func TestMinimumAnswer(t *testing.T) {
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"3", 3, true},
		{"au moins 90 m²", 90, true},
		{"0", 0, true},
		{"0 pièce", 0, true},
		{"peu importe", 0, true},
		{"grand", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			n, ok := minimumAnswer(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestConfirmationWords(t *testing.T) {
	for _, s := range []string{"oui", "Oui !", "ok", "c'est bon", "d'accord"} {
		assert.True(t, IsAffirmative(s), s)
	}
	for _, s := range []string{"non", "Modifier", "je veux changer"} {
		assert.True(t, IsNegative(s), s)
		assert.False(t, IsAffirmative(s), s)
	}
	assert.False(t, IsAffirmative("peut-être"))
	assert.False(t, IsNegative("peut-être"))
	assert.False(t, IsAffirmative("oui mais non"))
}
