// Package engine holds what the trading engines share.
package engine

import (
	"context"
	"strings"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Matcher pairs an external odds event with a venue event ticker.
type Matcher interface {
	Match(ctx context.Context, ev domain.OddsEvent) (eventID string, ok bool)
}

// StaticMatcher pairs events from a configured external id → venue event map.
type StaticMatcher map[string]string

// Match implements Matcher.
func (m StaticMatcher) Match(_ context.Context, ev domain.OddsEvent) (string, bool) {
	id, ok := m[strings.TrimSpace(ev.ExternalID)]
	if !ok || id == "" {
		return "", false
	}
	return domain.NormalizeTicker(id), true
}

// MatchOutcome returns the market of markets whose contract pays on outcome.
// A market matches when its title and the outcome name contain one another,
// or when the last ticker segment equals the outcome, case-insensitively.
func MatchOutcome(markets []domain.MarketQuote, outcome string) (domain.MarketQuote, bool) {
	want := strings.ToLower(strings.TrimSpace(outcome))
	if want == "" {
		return domain.MarketQuote{}, false
	}
	for _, m := range markets {
		title := strings.ToLower(strings.TrimSpace(m.Title))
		if title != "" && (strings.Contains(title, want) || strings.Contains(want, title)) {
			return m, true
		}
	}
	for _, m := range markets {
		parts := strings.Split(m.Ticker, "-")
		if strings.EqualFold(parts[len(parts)-1], want) {
			return m, true
		}
	}
	return domain.MarketQuote{}, false
}
