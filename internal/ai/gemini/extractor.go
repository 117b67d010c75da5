package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/validation"
	"immo-alerts/internal/models"
)

//go:embed extract_prompt.md
var extractPromptTemplate string

const maxPostLength = 4000

// contentGenerator is what the extractor and personalizer need from Gemini.
type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

var extractionSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["confidence"],
	"properties": {
		"price":        {"type": ["number", "null"], "minimum": 0},
		"location":     {"type": ["string", "null"], "maxLength": 200},
		"surface":      {"type": ["number", "null"], "minimum": 0, "maximum": 100000},
		"rooms":        {"type": ["integer", "null"], "minimum": 0, "maximum": 100},
		"propertyType": {"enum": ["HOUSE", "APARTMENT", null]},
		"furnished":    {"type": ["boolean", "null"]},
		"confidence":   {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

// Extractor turns raw post text into an Extraction.
type Extractor struct {
	generator contentGenerator
	logger    logger.Logger
}

func NewExtractor(generator contentGenerator, log logger.Logger) *Extractor {
	return &Extractor{
		generator: generator,
		logger:    log.WithFields(map[string]interface{}{"component": "extractor"}),
	}
}

// Extract never fails on a bad answer: unparseable or out-of-schema output
// yields a zero-confidence extraction. Transport errors are returned as
// EXTRACTION_TIMEOUT or EXTRACTION_FAILED.
func (e *Extractor) Extract(ctx context.Context, rawText string) (*models.Extraction, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return models.DegradedExtraction(), nil
	}
	if utf8.RuneCountInString(text) > maxPostLength {
		text = string([]rune(text)[:maxPostLength])
	}

	raw, err := e.generator.GenerateJSON(ctx, strings.ReplaceAll(extractPromptTemplate, "{{POST_TEXT}}", text))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewExtractionTimeoutError(err)
		}
		return nil, apperrors.NewExtractionFailedError(err)
	}

	ext, err := parseExtraction(raw)
	if err != nil {
		e.logger.Warn("discarding malformed extraction", map[string]interface{}{
			"error":    err.Error(),
			"response": logger.Truncate(raw, 200),
		})
		return models.DegradedExtraction(), nil
	}
	return ext, nil
}

func parseExtraction(raw string) (*models.Extraction, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return nil, apperrors.NewMalformedPayloadError("gemini", err)
	}

	doc := map[string]any{
		"price":        coerceNumber(data["price"]),
		"location":     coerceString(data["location"]),
		"surface":      coerceNumber(data["surface"]),
		"rooms":        coerceInt(data["rooms"]),
		"propertyType": coercePropertyType(data["propertyType"]),
		"furnished":    coerceBool(data["furnished"]),
		"confidence":   coerceNumber(data["confidence"]),
	}

	result, err := extractionSchema.Validate(doc)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apperrors.NewMalformedPayloadError("gemini",
			fmt.Errorf("schema: %s", strings.Join(result.GetErrorMessages(), "; ")))
	}

	ext := &models.Extraction{Confidence: doc["confidence"].(float64)}
	if v, ok := doc["price"].(float64); ok {
		ext.Price = &v
	}
	if v, ok := doc["location"].(string); ok {
		ext.Location = &v
	}
	if v, ok := doc["surface"].(float64); ok {
		ext.Surface = &v
	}
	if v, ok := doc["rooms"].(int); ok {
		ext.Rooms = &v
	}
	if v, ok := doc["propertyType"].(string); ok {
		t := models.PropertyType(v)
		ext.PropertyType = &t
	}
	if v, ok := doc["furnished"].(bool); ok {
		ext.Furnished = &v
	}
	return ext, nil
}

// extractJSON strips code fences and surrounding prose around the first JSON object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start != -1 && end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

// The coerce helpers return nil for absent or unusable values so the schema
// sees null rather than a wrong type.

func coerceNumber(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case string:
		cleaned := decimalString(val)
		if cleaned == "" {
			return nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		return f
	}
	return nil
}

// decimalString keeps digits and separators, then resolves which separator is
// the decimal point: "250,000" and "1.500.000" are grouped thousands while
// "95,5" and "0.925" are decimals.
func decimalString(s string) string {
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, s)

	lastDot, lastComma := strings.LastIndexByte(digits, '.'), strings.LastIndexByte(digits, ',')
	if lastDot >= 0 && lastComma >= 0 {
		if lastDot > lastComma {
			return strings.ReplaceAll(digits, ",", "")
		}
		return strings.Replace(strings.ReplaceAll(digits, ".", ""), ",", ".", 1)
	}

	sep := "."
	if lastComma >= 0 {
		sep = ","
	}
	switch strings.Count(digits, sep) {
	case 0:
		return digits
	case 1:
		whole, frac, _ := strings.Cut(digits, sep)
		if len(frac) == 3 && whole != "" && strings.TrimLeft(whole, "0") != "" {
			return whole + frac
		}
		return whole + "." + frac
	default:
		return strings.ReplaceAll(digits, sep, "")
	}
}

func coerceInt(v any) any {
	f, ok := coerceNumber(v).(float64)
	if !ok {
		return nil
	}
	return int(math.Round(f))
}

func coerceString(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return s
}

func coerceBool(v any) any {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "oui":
			return true
		case "false", "no", "non":
			return false
		}
	}
	return nil
}

func coercePropertyType(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HOUSE", "MAISON", "VILLA":
		return string(models.PropertyHouse)
	case "APARTMENT", "APPARTEMENT", "FLAT", "STUDIO":
		return string(models.PropertyApartment)
	}
	return nil
}
