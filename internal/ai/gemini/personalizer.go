package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/models"
)

//go:embed personalise_prompt.md
var personalisePromptTemplate string

const maxAlertLength = 1000

// Personalizer writes alert texts with Gemini.
type Personalizer struct {
	generator contentGenerator
	logger    logger.Logger
}

func NewPersonalizer(generator contentGenerator, log logger.Logger) *Personalizer {
	return &Personalizer{
		generator: generator,
		logger:    log.WithFields(map[string]interface{}{"component": "personalizer"}),
	}
}

func (p *Personalizer) Personalize(ctx context.Context, user *models.User, listing *models.Listing, match *models.Match) (string, error) {
	prompt, err := buildPersonalisePrompt(listing, match)
	if err != nil {
		return "", apperrors.NewPersonalisationFailedError(err)
	}

	text, err := p.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", apperrors.NewPersonalisationFailedError(err)
	}
	text = strings.TrimSpace(strings.Trim(text, "`"))
	if text == "" {
		return "", apperrors.NewPersonalisationFailedError(fmt.Errorf("empty text"))
	}
	if utf8.RuneCountInString(text) > maxAlertLength {
		return "", apperrors.NewPersonalisationFailedError(fmt.Errorf("text too long: %d runes", utf8.RuneCountInString(text)))
	}

	p.logger.Debug("alert personalised", map[string]interface{}{
		"userId":    user.ID,
		"listingId": listing.ID,
		"length":    utf8.RuneCountInString(text),
	})
	return text, nil
}

func buildPersonalisePrompt(listing *models.Listing, match *models.Match) (string, error) {
	facts := map[string]any{
		"price":        listing.Price,
		"location":     listing.Location,
		"surface":      listing.Surface,
		"rooms":        listing.Rooms,
		"propertyType": listing.PropertyType,
		"furnished":    listing.Furnished,
		"url":          listing.PostURL,
		"text":         logger.Truncate(listing.RawText, 600),
	}
	listingJSON, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal listing: %w", err)
	}

	reasons := "- aucun"
	if len(match.Reasons) > 0 {
		reasons = "- " + strings.Join(match.Reasons, "\n- ")
	}

	prompt := strings.ReplaceAll(personalisePromptTemplate, "{{LISTING_JSON}}", string(listingJSON))
	prompt = strings.ReplaceAll(prompt, "{{REASONS}}", reasons)
	prompt = strings.ReplaceAll(prompt, "{{SCORE}}", fmt.Sprintf("%.0f", match.Score))
	return prompt, nil
}
