package portfolio

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// FeeSchedule selects the rate the entry leg of a realized trade pays. Exits
// are resting limit orders and pay the maker rate.
type FeeSchedule struct {
	EntryMaker bool
}

func (f FeeSchedule) entryFee(entry float64) float64 {
	return domain.FeePerContract(entry, f.EntryMaker)
}

// RealizeAt closes qty contracts of p at exitPrice, charging the entry fee
// and the maker exit fee.
func (f FeeSchedule) RealizeAt(p domain.Position, qty int, exitPrice float64, reason domain.ExitReason, at time.Time) domain.ClosedTrade {
	entry := p.Entry()
	perContract := (exitPrice - entry) -
		domain.FeePerContract(exitPrice, true) -
		f.entryFee(entry)
	return closedTrade(p, qty, exitPrice, perContract, reason, at)
}

// RealizeResolution closes p on a resolved market. The held side wins
// 1 − entry per contract, loses the entry otherwise; the entry fee is charged
// either way and there is no exit leg.
func (f FeeSchedule) RealizeResolution(p domain.Position, outcome domain.Side, at time.Time) domain.ClosedTrade {
	entry := p.Entry()
	fee := f.entryFee(entry)
	exit, perContract := 0.0, -(entry + fee)
	if outcome == p.Side {
		exit, perContract = 1, (1-entry)-fee
	}
	return closedTrade(p, p.Quantity, exit, perContract, domain.ExitResolved, at)
}

// DisappearancePrice is the price a position that left the venue is realized
// at: the exit order price if one was placed, else its own last mark, else
// its entry.
func DisappearancePrice(p domain.Position) float64 {
	switch {
	case p.LastExitPrice != nil:
		return *p.LastExitPrice
	case p.LastPrice != nil:
		return *p.LastPrice
	}
	return p.Entry()
}

// reconcileTrades prices everything reconciliation took off the book,
// including contracts sold outside our exit orders.
func (f FeeSchedule) reconcileTrades(rep ledger.ReconcileReport, at time.Time) []domain.ClosedTrade {
	var out []domain.ClosedTrade
	for _, p := range rep.Vanished {
		out = append(out, f.RealizeAt(p, p.Quantity, DisappearancePrice(p), domain.ExitVanished, at))
	}
	for _, p := range rep.Exited {
		out = append(out, f.RealizeAt(p, p.Quantity, DisappearancePrice(p), exitReason(p, domain.ExitVanished), at))
	}
	for _, pe := range rep.Partial {
		p := pe.Position
		out = append(out, f.RealizeAt(p, pe.FilledQty, DisappearancePrice(p), exitReason(p, domain.ExitPartial), at))
	}
	for _, r := range rep.Resized {
		if sold := r.Sold(); sold > 0 {
			out = append(out, f.RealizeAt(r.Position, sold, DisappearancePrice(r.Position), domain.ExitPartial, at))
		}
	}
	return out
}

func exitReason(p domain.Position, fallback domain.ExitReason) domain.ExitReason {
	if p.ExitReason != "" {
		return p.ExitReason
	}
	return fallback
}

func closedTrade(p domain.Position, qty int, exit, perContract float64, reason domain.ExitReason, at time.Time) domain.ClosedTrade {
	return domain.ClosedTrade{
		ID:          uuid.NewString(),
		MatchID:     p.MatchID,
		EventID:     p.EventID,
		MarketID:    p.MarketID,
		Side:        p.Side,
		EntryPrice:  p.Entry(),
		ExitPrice:   exit,
		Quantity:    qty,
		RealizedPnL: roundCents(float64(qty) * perContract),
		Reason:      reason,
		EntryTime:   p.EntryTime,
		SettledTime: at,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
