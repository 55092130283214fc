package portfolio

import "github.com/alejandrodnm/kalshibot/internal/domain"

// UnrealizedAt values an open position at price: per contract, the move from
// effective entry less the maker fee to exit at price.
func UnrealizedAt(p domain.Position, price float64) float64 {
	if p.Settled || p.Quantity <= 0 {
		return 0
	}
	perContract := (price - p.Entry()) - domain.FeePerContract(price, true)
	return float64(p.Quantity) * perContract
}

// Mark values p at the held side's bid, else ask. Without a quote it falls
// back to the position's last mark; ok is false if neither exists.
func Mark(p domain.Position, q *domain.MarketQuote) (price, unrealized float64, ok bool) {
	if q != nil {
		if price, ok = q.ExitPrice(p.Side); ok {
			return price, UnrealizedAt(p, price), true
		}
	}
	if p.LastPrice != nil {
		return *p.LastPrice, UnrealizedAt(p, *p.LastPrice), true
	}
	return 0, 0, false
}

// Equity is base capital plus realized and unrealized PnL.
func Equity(base, realized float64, marks []domain.PositionMark) float64 {
	eq := base + realized
	for _, m := range marks {
		eq += m.Unrealized
	}
	return eq
}
