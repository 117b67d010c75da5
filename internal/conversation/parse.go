package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"immo-alerts/internal/models"
)

var (
	houseKeywords     = []string{"maison", "villa", "house", "pavillon", "longère", "longere"}
	apartmentKeywords = []string{"appartement", "appart", "apartment", "studio", "loft", "duplex"}
	bothKeywords      = []string{"les deux", "both", "peu importe", "indifférent", "indifferent", "n'importe"}

	maxPriceKeywords = []string{"max", "jusqu'à", "jusqu'a", "jusqu’à", "moins de", "pas plus de", "au plus", "plafond"}

	noPreferenceKeywords = []string{
		"pas important", "peu importe", "indifférent", "indifferent", "pas de préférence", "pas de preference",
		"aucune", "aucun", "n'importe", "skip", "passer", "non",
	}

	affirmativeWords = map[string]bool{
		"oui": true, "yes": true, "ok": true, "okay": true, "ouais": true, "confirme": true,
		"confirmer": true, "valide": true, "valider": true, "parfait": true, "d'accord": true, "daccord": true,
	}
	negativeWords = map[string]bool{
		"non": true, "no": true, "modifier": true, "modif": true, "changer": true, "change": true, "recommencer": true,
	}

	groupedThousands = regexp.MustCompile(`\d{1,3}(?:[ .\x{00A0}\x{202F}]\d{3})+\b`)
	numberToken      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)(?:\s*(k|m|millions?)\b)?`)
	integerToken     = regexp.MustCompile(`\d+`)
	// Room counts, surfaces and T3/F4 style types are never prices.
	nonPriceQuantity = regexp.MustCompile(`\b[tf]\d\b|\d+(?:[.,]\d+)?\s*(?:pi[eè]ces?|pcs?\b|p\b|chambres?|ch\b|m²|m2\b|m[eè]tres?)`)
	locationSplit    = regexp.MustCompile(`[,;/-]`)
)

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// commandWord reduces a message to a bare lowercase word, stripping punctuation
// around it, so "Statut !" matches "statut".
func commandWord(text string) string {
	return strings.TrimFunc(normalize(text), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	})
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func words(text string) []string {
	return strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// ClassifyPropertyType maps free text (or a 1/2/3 menu choice) to a property type.
func ClassifyPropertyType(text string) (models.PropertyType, bool) {
	switch commandWord(text) {
	case "1":
		return models.PropertyHouse, true
	case "2":
		return models.PropertyApartment, true
	case "3":
		return models.PropertyBoth, true
	}

	t := normalize(text)
	if containsAny(t, bothKeywords) {
		return models.PropertyBoth, true
	}
	house := containsAny(t, houseKeywords)
	apartment := containsAny(t, apartmentKeywords)
	switch {
	case house && apartment:
		return models.PropertyBoth, true
	case house:
		return models.PropertyHouse, true
	case apartment:
		return models.PropertyApartment, true
	}
	return "", false
}

// ParsePrice extracts a budget. One number with a "max" keyword is [0, n], one
// number alone is [0.6n, n], two numbers are their ordered pair. Bare values
// under 1000 are read as thousands of euros. Rooms and surfaces are ignored.
func ParsePrice(text string) (min, max float64, ok bool) {
	t := nonPriceQuantity.ReplaceAllString(normalize(text), " ")
	t = groupedThousands.ReplaceAllStringFunc(t, func(s string) string {
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, s)
	})

	var values []float64
	for _, m := range numberToken.FindAllStringSubmatch(t, -1) {
		v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil || v <= 0 {
			continue
		}
		switch {
		case m[2] == "k":
			v *= 1_000
		case m[2] != "":
			v *= 1_000_000
		case v < 1000:
			v *= 1_000
		}
		values = append(values, v)
	}

	switch {
	case len(values) == 0:
		return 0, 0, false
	case len(values) == 1 && containsAny(t, maxPriceKeywords):
		return 0, values[0], true
	case len(values) == 1:
		return 0.6 * values[0], values[0], true
	}

	a, b := values[0], values[1]
	if a > b {
		a, b = b, a
	}
	return a, b, true
}

// ParseLocations splits on , ; / - and drops tokens of two characters or fewer.
func ParseLocations(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, part := range locationSplit.Split(text, -1) {
		part = strings.Join(strings.Fields(part), " ")
		if utf8.RuneCountInString(part) <= 2 {
			continue
		}
		key := strings.ToLower(part)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, part)
	}
	return out
}

// FirstInt returns the first integer token in text.
func FirstInt(text string) (int, bool) {
	m := integerToken.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// minimumAnswer reads a rooms or surface answer. A zero result means no
// minimum: either the user declined or gave 0, and 0 is never a useful bound.
func minimumAnswer(text string) (int, bool) {
	if n, ok := FirstInt(text); ok {
		return n, true
	}
	return 0, IsNoPreference(text)
}

// IsNoPreference reports whether the user declined to answer a step.
func IsNoPreference(text string) bool {
	t := normalize(text)
	return t == "-" || t == "0" || containsAny(t, noPreferenceKeywords)
}

// IsNegative reports a refusal or a request to modify.
func IsNegative(text string) bool {
	for _, w := range words(text) {
		if negativeWords[w] {
			return true
		}
	}
	return false
}

// IsAffirmative reports a confirmation. A negative word wins over an affirmative one.
func IsAffirmative(text string) bool {
	if IsNegative(text) {
		return false
	}
	t := normalize(text)
	if strings.Contains(t, "c'est bon") || strings.Contains(t, "👍") {
		return true
	}
	for _, w := range words(text) {
		if affirmativeWords[w] {
			return true
		}
	}
	return false
}
