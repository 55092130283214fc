package domain

import (
	"strings"
	"time"
)

// Side is one of the two complementary outcomes of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide accepts "yes"/"no" in any case and surrounding whitespace.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, true
	case SideNo:
		return SideNo, true
	}
	return "", false
}

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ExitReason tags why a position left the book.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitResolved   ExitReason = "resolved"
	ExitVanished   ExitReason = "vanished"
	ExitPartial    ExitReason = "partial_exit"
)

// PositionKey identifies a resting exposure: at most one non-settled
// position per key lives in the ledger.
type PositionKey struct {
	MarketID string
	Side     Side
}

// KeyOf builds a normalized key so tickers compare case-insensitively.
func KeyOf(marketID string, side Side) PositionKey {
	s, ok := ParseSide(string(side))
	if !ok {
		s = side
	}
	return PositionKey{MarketID: NormalizeTicker(marketID), Side: s}
}

// Position is one resting exposure to a single contract side.
type Position struct {
	ID             string   `json:"id,omitempty"`
	MatchID        string   `json:"match_id"`
	EventID        string   `json:"event_id"`
	MarketID       string   `json:"market_id"`
	Side           Side     `json:"side"`
	EntryPrice     float64  `json:"entry_price"`
	EffectiveEntry float64  `json:"effective_entry"`
	Quantity       int      `json:"quantity"`
	StopLoss       *float64 `json:"stop_loss"`
	TakeProfit     *float64 `json:"take_profit"`

	Settled           bool       `json:"settled"`
	ClosingInProgress bool       `json:"closing_in_progress"`
	ClosingSince      *time.Time `json:"closing_since,omitempty"`
	ExitReason        ExitReason `json:"exit_reason,omitempty"`
	ExitOrderID       string     `json:"exit_order_id,omitempty"`
	LastExitPrice     *float64   `json:"last_exit_price,omitempty"`

	// LastPrice is the most recent exit quote seen by mark-to-market.
	LastPrice *float64 `json:"last_price,omitempty"`

	EntryTime    time.Time  `json:"entry_time"`
	SettledTime  *time.Time `json:"settled_time,omitempty"`
	LastSeenLive *time.Time `json:"last_seen_live,omitempty"`
}

// Key returns the (market, side) identity of the position.
func (p Position) Key() PositionKey {
	return KeyOf(p.MarketID, p.Side)
}

// IsOpen reports whether the position still carries exposure.
func (p Position) IsOpen() bool {
	return !p.Settled
}

// Entry returns the effective entry, falling back to the raw entry price.
func (p Position) Entry() float64 {
	if p.EffectiveEntry > 0 {
		return p.EffectiveEntry
	}
	return p.EntryPrice
}

// Exposure is the dollar value at risk: quantity × entry price.
func (p Position) Exposure() float64 {
	if p.Settled {
		return 0
	}
	return float64(p.Quantity) * p.EntryPrice
}

// HasThreshold reports whether a stop-loss or take-profit is configured.
func (p Position) HasThreshold() bool {
	return p.StopLoss != nil || p.TakeProfit != nil
}

// Price returns a pointer to v, for optional thresholds and quotes.
func Price(v float64) *float64 {
	return &v
}

// LivePosition is a venue-reported holding.
type LivePosition struct {
	MarketID string
	EventID  string
	Side     Side
	Quantity int
	AvgPrice float64 // 0 when the venue reports no usable price
}

// Key returns the (market, side) identity of the venue holding.
func (lp LivePosition) Key() PositionKey {
	return KeyOf(lp.MarketID, lp.Side)
}

// StopOrder is the persisted metadata of an exit order placed by the
// stop-loss / take-profit monitor, keyed by market id.
type StopOrder struct {
	MarketID string     `json:"market_id"`
	EventID  string     `json:"event_id"`
	Side     Side       `json:"side"`
	OrderID  string     `json:"order_id"`
	Reason   ExitReason `json:"reason"`
	Price    float64    `json:"price"`
	Quantity int        `json:"quantity"`
	PlacedAt time.Time  `json:"placed_at"`
}

// Cooldown records a stop-loss exit on an event.
type Cooldown struct {
	At         time.Time `json:"timestamp"`
	EntryPrice *float64  `json:"entry_price"`
}
