package domain

import "time"

// PositionMark is a position valued at the current quote.
type PositionMark struct {
	Position   Position
	Price      *float64 // nil when the market had no quote this cycle
	Unrealized float64
}

// CycleReport summarizes one portfolio cycle for display and metrics.
type CycleReport struct {
	Mode          string
	At            time.Time
	Marks         []PositionMark
	Closed        []ClosedTrade
	ExitsPlaced   int
	Added         int
	Realized      float64
	Unrealized    float64
	Equity        float64
	Exposure      float64
	Wins          int
	Losses        int
	Warnings      []string
	ReconcileSkip bool
}
