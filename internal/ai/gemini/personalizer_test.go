package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personaliseFixture() (*models.User, *models.Listing, *models.Match) {
	user := &models.User{ID: "u1", Phone: "+33612345678"}
	listing := &models.Listing{
		ID:       "l1",
		RawText:  "Belle maison avec jardin",
		Price:    models.Float64(240000),
		Location: models.String("Lyon"),
		PostURL:  "https://example.com/p/1",
	}
	match := &models.Match{ID: "m1", Score: 85, Reasons: []string{"Prix dans votre budget (240 000 €)", "Localisation recherchée : Lyon"}}
	return user, listing, match
}

func TestPersonalizer_BuildsPromptAndReturnsText(t *testing.T) {
	stub := &stubGenerator{response: "🏠 Une maison à Lyon pour vous !"}
	p := NewPersonalizer(stub, logger.NewTestLogger(t))
	user, listing, match := personaliseFixture()

	text, err := p.Personalize(context.Background(), user, listing, match)
	require.NoError(t, err)
	assert.Equal(t, "🏠 Une maison à Lyon pour vous !", text)
	assert.Contains(t, stub.lastPrompt, "Compatibilité : 85/100")
	assert.Contains(t, stub.lastPrompt, "- Localisation recherchée : Lyon")
	assert.Contains(t, stub.lastPrompt, "https://example.com/p/1")
	assert.NotContains(t, stub.lastPrompt, "{{")
}

func TestPersonalizer_Failures(t *testing.T) {
	user, listing, match := personaliseFixture()
	cases := map[string]*stubGenerator{
		"generator error": {err: errors.New("quota")},
		"empty answer":    {response: "``"},
		"too long":        {response: strings.Repeat("a", maxAlertLength+1)},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewPersonalizer(stub, logger.NewTestLogger(t)).Personalize(context.Background(), user, listing, match)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePersonalisationError))
		})
	}
}
