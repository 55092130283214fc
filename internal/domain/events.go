package domain

import (
	"regexp"
	"strings"
)

var (
	setSuffix  = regexp.MustCompile(`-set\d+`)
	separators = regexp.MustCompile(`[_\s]+`)
)

// NormalizeTicker upper-cases and trims a venue ticker.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// EventKey is the canonical event identifier used for exposure aggregation
// and cooldowns. Per-set sub-events collapse into their parent event.
func EventKey(eventID string) string {
	k := strings.ToLower(strings.TrimSpace(eventID))
	k = setSuffix.ReplaceAllString(k, "")
	return separators.ReplaceAllString(k, "")
}

// EventFromMarket derives the event ticker from a market ticker of the form
// SERIES-EVENT-OUTCOME. It returns "" when the ticker has fewer than three parts.
func EventFromMarket(marketID string) string {
	parts := strings.Split(NormalizeTicker(marketID), "-")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[:2], "-")
}
