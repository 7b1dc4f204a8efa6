package usecase

import (
	"regexp"
	"strconv"
	"strings"
)

// Package-level compiled regex patterns for performance
var (
	multipleSpacesRegex = regexp.MustCompile(`\s+`)

	// Matches size/quantity patterns like "500ml", "12 fl oz", "1.5 l"
	sizePatternRegex = regexp.MustCompile(
		`(?i)(\d+(?:\.\d+)?)\s*(ml|ltr|liter|litre|l|fl\s*oz|floz|oz|gm|gram|grams|g|kg|lbs|lb|ct|count|pk|pack)\b`,
	)

	// Promotional noise that carries no product information
	promoPatternRegex = regexp.MustCompile(
		`(?i)\b(new|sale|bogo|clearance|special offer|limited time|buy \d+ get \d+)\b|[!\*#]+`,
	)
)

// unitConversions maps size units to their ml/g multiplier.
var unitConversions = map[string]float64{
	"ml":    1.0,
	"l":     1000.0,
	"ltr":   1000.0,
	"liter": 1000.0,
	"litre": 1000.0,
	"oz":    29.5735,
	"floz":  29.5735,
	"g":     1.0,
	"gm":    1.0,
	"gram":  1.0,
	"grams": 1.0,
	"kg":    1000.0,
	"lb":    453.592,
	"lbs":   453.592,
	"ct":    1.0,
	"count": 1.0,
	"pk":    1.0,
	"pack":  1.0,
}

// ExtractSize pulls the first size/quantity token out of a description and
// returns the value normalized to ml (volume) or g (weight). Used as the
// local fallback when the gateway's normalization is unavailable.
func ExtractSize(text string) (*float64, string) {
	match := sizePatternRegex.FindStringSubmatch(text)
	if match == nil {
		return nil, ""
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil || value <= 0 {
		return nil, ""
	}

	unit := strings.ToLower(strings.ReplaceAll(match[2], " ", ""))
	multiplier, ok := unitConversions[unit]
	if !ok {
		multiplier = 1.0
	}

	normalized := value * multiplier
	return &normalized, unit
}

// CleanDescription strips promotional noise and collapses whitespace. It is
// the degraded stand-in for gateway normalization: abbreviations stay
// unexpanded, but the text is at least embeddable.
func CleanDescription(text string) string {
	cleaned := promoPatternRegex.ReplaceAllString(text, " ")
	cleaned = multipleSpacesRegex.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
