// Package scoring computes how well a listing fits a subscriber's criteria.
// Score is pure and safe for concurrent use.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"immo-alerts/internal/models"
)

const (
	WeightType     = 10.0
	WeightPrice    = 30.0
	WeightLocation = 25.0
	WeightSurface  = 20.0
	WeightRooms    = 15.0

	// priceReasonThreshold is the price score at or above which the listing counts as in budget.
	priceReasonThreshold = 25.0
)

// Breakdown holds the pre-weighted per-dimension scores. Total is their sum.
type Breakdown struct {
	Total    float64  `json:"total"`
	Type     float64  `json:"type"`
	Price    float64  `json:"price"`
	Location float64  `json:"location"`
	Surface  float64  `json:"surface"`
	Rooms    float64  `json:"rooms"`
	Reasons  []string `json:"reasons"`
}

// PerDimension returns the dimension scores keyed by name.
func (b Breakdown) PerDimension() map[string]float64 {
	return map[string]float64{
		"type":     b.Type,
		"price":    b.Price,
		"location": b.Location,
		"surface":  b.Surface,
		"rooms":    b.Rooms,
	}
}

// Score rates l against c. Callers must only pass eligible listings.
func Score(l *models.Listing, c *models.Criteria) Breakdown {
	b := Breakdown{
		Type:     scoreType(l, c),
		Price:    scorePrice(l.Price, c.MinPrice, c.MaxPrice),
		Location: scoreLocation(l.Location, c.Locations),
		Surface:  scoreRange(l.Surface, c.MinSurface, c.MaxSurface, WeightSurface),
		Rooms:    scoreRange(intToFloat(l.Rooms), intToFloat(c.MinRooms), intToFloat(c.MaxRooms), WeightRooms),
	}
	b.Total = b.Type + b.Price + b.Location + b.Surface + b.Rooms
	b.Reasons = reasons(l, b)
	return b
}

func scoreType(l *models.Listing, c *models.Criteria) float64 {
	if l.PropertyType == nil {
		return 0
	}
	if c.PropertyType == models.PropertyBoth || c.PropertyType == *l.PropertyType {
		return WeightType
	}
	return 0
}

// scorePrice: no bounds is full credit; a single bound is no credit; both
// bounds decay linearly with the distance to the nearer bound relative to price.
func scorePrice(price, min, max *float64) float64 {
	switch {
	case min == nil && max == nil:
		return WeightPrice
	case min == nil || max == nil:
		return 0
	case price == nil || *price <= 0:
		return 0
	}

	p := *price
	if p >= *min && p <= *max {
		return WeightPrice
	}

	distance := *min - p
	if p > *max {
		distance = p - *max
	}
	return math.Max(0, WeightPrice-100*(distance/p))
}

func scoreLocation(location *string, wanted []string) float64 {
	if location == nil || len(wanted) == 0 {
		return 0
	}
	haystack := strings.ToLower(*location)
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(haystack, w) {
			return WeightLocation
		}
	}
	return 0
}

// scoreRange gives full credit with no bounds, or both bounds and an in-range value.
func scoreRange(value, min, max *float64, weight float64) float64 {
	if min == nil && max == nil {
		return weight
	}
	if min == nil || max == nil || value == nil {
		return 0
	}
	if *value >= *min && *value <= *max {
		return weight
	}
	return 0
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

// reasons are ordered price, location, surface, rooms, type.
func reasons(l *models.Listing, b Breakdown) []string {
	out := make([]string, 0, 5)

	if l.Price != nil {
		switch {
		case b.Price >= priceReasonThreshold:
			out = append(out, "Prix dans votre budget ("+FormatPrice(*l.Price)+")")
		case b.Price > 0:
			out = append(out, "Prix proche de votre budget ("+FormatPrice(*l.Price)+")")
		}
	}
	if b.Location == WeightLocation {
		out = append(out, "Localisation recherchée : "+*l.Location)
	}
	if b.Surface == WeightSurface && l.Surface != nil {
		out = append(out, fmt.Sprintf("Surface adaptée : %s m²", strconv.FormatFloat(*l.Surface, 'f', -1, 64)))
	}
	if b.Rooms == WeightRooms && l.Rooms != nil {
		out = append(out, fmt.Sprintf("%d pièces", *l.Rooms))
	}
	if b.Type == WeightType {
		out = append(out, "Type de bien : "+PropertyLabel(*l.PropertyType))
	}
	return out
}

// PropertyLabel is the French display name of a property type.
func PropertyLabel(t models.PropertyType) string {
	switch t {
	case models.PropertyHouse:
		return "Maison"
	case models.PropertyApartment:
		return "Appartement"
	case models.PropertyBoth:
		return "Maison ou appartement"
	}
	return string(t)
}

// FormatPrice renders 250000 as "250 000 €".
func FormatPrice(v float64) string {
	digits := strconv.FormatInt(int64(math.Round(v)), 10)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}
	sb.WriteString(" €")
	return sb.String()
}
