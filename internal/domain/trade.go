package domain

import "time"

// ClosedTrade is the immutable record appended when a position settles.
type ClosedTrade struct {
	ID          string
	MatchID     string
	EventID     string
	MarketID    string
	Side        Side
	EntryPrice  float64
	ExitPrice   float64
	Quantity    int
	RealizedPnL float64
	Reason      ExitReason
	EntryTime   time.Time
	SettledTime time.Time
}

// Won reports whether the trade realized a strictly positive PnL.
func (t ClosedTrade) Won() bool {
	return t.RealizedPnL > 0
}

// DailySummary is the per-day snapshot persisted by the trade log.
type DailySummary struct {
	Date          time.Time
	OpenPositions int
	Exposure      float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Equity        float64
	Wins          int
	Losses        int
	Settlements   int
	ExitsPlaced   int
}
