package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Triggered reports which threshold, if any, price crosses for p.
func Triggered(p domain.Position, price float64) (domain.ExitReason, bool) {
	if p.StopLoss != nil && price <= *p.StopLoss {
		return domain.ExitStopLoss, true
	}
	if p.TakeProfit != nil && price >= *p.TakeProfit {
		return domain.ExitTakeProfit, true
	}
	return "", false
}

// scanStops submits exits for every open position whose threshold fired and
// flags it closing. One failing position does not stop the scan.
func (e *Engine) scanStops(ctx context.Context, quotes map[string]domain.MarketQuote, now time.Time, res *CycleResult) {
	for _, p := range e.session.Ledger.Open() {
		if p.ClosingInProgress || p.Quantity <= 0 || !p.HasThreshold() {
			continue
		}
		q, ok := quotes[p.MarketID]
		if !ok {
			continue
		}
		price, ok := q.ExitPrice(p.Side)
		if !ok {
			continue
		}
		reason, hit := Triggered(p, price)
		if !hit {
			continue
		}

		orderID, err := e.deps.Exits.PlaceExit(ctx, ports.ExitOrder{
			MarketID: p.MarketID,
			Side:     p.Side,
			Quantity: p.Quantity,
			Price:    price,
			Reason:   reason,
		})
		if err != nil {
			e.sourceError("exits", err)
			slog.Warn("stoploss: exit order failed", "market", p.MarketID, "side", p.Side, "reason", reason, "err", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("exit %s %s failed: %v", p.MarketID, p.Side, err))
			continue
		}

		e.session.Ledger.MarkClosing(p.Key(), reason, orderID, price, now)
		e.session.StopOrders[p.MarketID] = domain.StopOrder{
			MarketID: p.MarketID,
			EventID:  p.EventID,
			Side:     p.Side,
			OrderID:  orderID,
			Reason:   reason,
			Price:    price,
			Quantity: p.Quantity,
			PlacedAt: now,
		}
		if reason == domain.ExitStopLoss {
			e.session.Cooldowns.Mark(p.EventID, domain.Price(p.Entry()), now)
		}
		res.ExitsPlaced++
		slog.Info("stoploss: exit placed",
			"market", p.MarketID, "side", p.Side, "reason", reason,
			"price", price, "qty", p.Quantity, "order_id", orderID)
	}
}

// reviewExits releases closing positions whose exit order will not fill.
// With an order tracker a canceled order releases at once and a resting one
// is canceled after ledger.StaleClosingAfter; without one the closing flag
// expires after that window. It only runs after a successful reconciliation,
// so a position still closing here is held by the venue in full.
func (e *Engine) reviewExits(ctx context.Context, now time.Time, res *CycleResult) {
	if res.ReconcileSkip {
		return
	}
	for _, p := range e.session.Ledger.Open() {
		if !p.ClosingInProgress {
			continue
		}
		stale := p.ClosingSince == nil || now.Sub(*p.ClosingSince) >= ledger.StaleClosingAfter

		if e.deps.Orders == nil || p.ExitOrderID == "" {
			if stale {
				e.releaseExit(p, 0, "expired", now, res)
			}
			continue
		}

		st, err := e.deps.Orders.GetOrder(ctx, p.ExitOrderID)
		if err != nil {
			if ports.KindOf(err) == ports.KindNotFound {
				e.releaseExit(p, 0, "order not found", now, res)
				continue
			}
			e.sourceError("orders", err)
			slog.Warn("stoploss: exit order status unavailable", "market", p.MarketID, "order_id", p.ExitOrderID, "err", err)
			continue
		}

		switch {
		case st.Status == ports.OrderExecuted || st.Filled >= p.Quantity:
			// booked by reconciliation once the venue drops the holding
		case st.Status == ports.OrderCanceled:
			e.releaseExit(p, st.Filled, "canceled", now, res)
		case stale:
			if err := e.deps.Orders.CancelOrder(ctx, p.ExitOrderID); err != nil {
				e.sourceError("orders", err)
				slog.Warn("stoploss: could not cancel stale exit", "market", p.MarketID, "order_id", p.ExitOrderID, "err", err)
				continue
			}
			e.releaseExit(p, st.Filled, "timed out", now, res)
		}
	}
}

// releaseExit re-arms p and books the part of its exit order that filled.
func (e *Engine) releaseExit(p domain.Position, filled int, why string, now time.Time, res *CycleResult) {
	if !e.session.Ledger.ReleaseClosing(p.Key(), filled) {
		return
	}
	if filled > 0 {
		e.session.Record(e.cfg.Fees.RealizeAt(p, filled, DisappearancePrice(p), exitReason(p, domain.ExitPartial), now))
	}
	delete(e.session.StopOrders, p.MarketID)
	slog.Info("stoploss: exit released, monitoring again",
		"market", p.MarketID, "side", p.Side, "order_id", p.ExitOrderID, "filled", filled, "why", why)
	res.Warnings = append(res.Warnings, fmt.Sprintf("exit %s %s %s, monitoring again", p.MarketID, p.Side, why))
}
