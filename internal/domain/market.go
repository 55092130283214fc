package domain

import "strings"

// MarketQuote is a venue market with its top-of-book YES quotes, in dollars.
type MarketQuote struct {
	Ticker  string
	EventID string
	Title   string // outcome label, e.g. the team a YES contract pays on
	Status  string
	Result  string // "yes" | "no" | "" while unresolved
	YesBid  *float64
	YesAsk  *float64
	Volume  int64
}

// IsActive reports whether the market is open for trading.
func (q MarketQuote) IsActive() bool {
	return strings.EqualFold(q.Status, "active") || strings.EqualFold(q.Status, "open")
}

// HasQuote reports whether at least one side of the YES book is quoted.
func (q MarketQuote) HasQuote() bool {
	return (q.YesBid != nil && *q.YesBid > 0) || (q.YesAsk != nil && *q.YesAsk > 0)
}

// IsTerminal reports whether the venue considers the market finished.
func (q MarketQuote) IsTerminal() bool {
	switch strings.ToLower(q.Status) {
	case "settled", "closed", "determined", "finalized", "resolved":
		return true
	}
	return false
}

// Outcome returns the resolved side, if any.
func (q MarketQuote) Outcome() (Side, bool) {
	r := strings.ToLower(strings.TrimSpace(q.Result))
	switch {
	case strings.HasPrefix(r, "yes"):
		return SideYes, true
	case strings.HasPrefix(r, "no"):
		return SideNo, true
	}
	return "", false
}

// Bid returns the best bid for the given side. NO quotes are derived from
// the YES book: no_bid = 1 - yes_ask.
func (q MarketQuote) Bid(side Side) (float64, bool) {
	if side == SideNo {
		if q.YesAsk == nil || *q.YesAsk <= 0 {
			return 0, false
		}
		return clampUnit(1 - *q.YesAsk), true
	}
	if q.YesBid == nil || *q.YesBid <= 0 {
		return 0, false
	}
	return clampUnit(*q.YesBid), true
}

// Ask returns the best ask for the given side (no_ask = 1 - yes_bid).
func (q MarketQuote) Ask(side Side) (float64, bool) {
	if side == SideNo {
		if q.YesBid == nil || *q.YesBid <= 0 {
			return 0, false
		}
		return clampUnit(1 - *q.YesBid), true
	}
	if q.YesAsk == nil || *q.YesAsk <= 0 {
		return 0, false
	}
	return clampUnit(*q.YesAsk), true
}

// ExitPrice is the price a held side could be marked at: bid if available,
// otherwise ask.
func (q MarketQuote) ExitPrice(side Side) (float64, bool) {
	if p, ok := q.Bid(side); ok {
		return p, true
	}
	return q.Ask(side)
}

// FindQuote returns the quote for ticker among markets.
func FindQuote(markets []MarketQuote, ticker string) (MarketQuote, bool) {
	want := NormalizeTicker(ticker)
	for _, m := range markets {
		if NormalizeTicker(m.Ticker) == want {
			return m, true
		}
	}
	return MarketQuote{}, false
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
