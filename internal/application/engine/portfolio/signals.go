package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/kalshibot/internal/application/engine"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// BlockedCooldown is the Signal.Blocked value for events in stop-loss cooldown.
const BlockedCooldown = "cooldown"

// Signal is a venue contract priced below its fair probability, sized by the
// exposure engine.
type Signal struct {
	ExternalID string
	EventID    string
	MarketID   string
	Outcome    string
	Side       domain.Side
	Fair       float64
	Ask        float64
	Edge       float64
	DesiredQty int
	Decision   risk.Decision
	Blocked    string
	Filled     int
}

// Placeable reports whether the signal may be sent as an order.
func (s Signal) Placeable() bool {
	return s.Blocked == "" && s.Decision.AllowedQty > 0
}

// EvaluateSignals prices every matched external event, compares fair
// probabilities with venue asks and sizes the edges above the configured
// minimum. With PlaceEntries set, allowed signals are sent and booked.
func (e *Engine) EvaluateSignals(ctx context.Context) ([]Signal, error) {
	if e.deps.Odds == nil || e.deps.Matcher == nil || e.deps.Estimator == nil {
		return nil, nil
	}
	events, err := e.deps.Odds.GetOdds(ctx)
	if err != nil {
		e.sourceError("odds", err)
		return nil, fmt.Errorf("portfolio.EvaluateSignals: %w", err)
	}

	now := e.now()
	if n := e.session.Cache.ClearExpired(); n > 0 {
		slog.Debug("signals: expired match cache entries", "count", n)
	}
	capital := e.capital(ctx)

	var signals []Signal
	for _, ev := range events {
		eventID, ok := e.deps.Matcher.Match(ctx, ev)
		if !ok {
			continue
		}
		markets, err := e.marketsFor(ctx, ev.ExternalID, eventID)
		if err != nil {
			if ports.KindOf(err) == ports.KindRateLimited {
				slog.Warn("signals: rate limited, stopping discovery for this cycle", "event", eventID)
				break
			}
			slog.Warn("signals: markets unavailable", "event", eventID, "err", err)
			continue
		}

		est, err := e.deps.Estimator.Estimate(ev.Books)
		if err != nil {
			slog.Debug("signals: no fair probability", "event", eventID, "err", err)
			continue
		}

		for outcome, fair := range est.Probabilities {
			m, ok := engine.MatchOutcome(markets, outcome)
			if !ok {
				continue
			}
			q, err := e.deps.Quotes.GetMarket(ctx, m.Ticker)
			if err != nil {
				e.sourceError("quotes", err)
				continue
			}
			ask, ok := q.Ask(domain.SideYes)
			if !ok || ask >= 1 {
				continue
			}
			edge := fair - ask
			if edge < e.cfg.MinEdge {
				continue
			}

			sig := Signal{
				ExternalID: ev.ExternalID,
				EventID:    eventID,
				MarketID:   domain.NormalizeTicker(q.Ticker),
				Outcome:    outcome,
				Side:       domain.SideYes,
				Fair:       fair,
				Ask:        ask,
				Edge:       edge,
				DesiredQty: int(e.cfg.StakeDollars / ask),
			}
			if e.session.Cooldowns.Active(eventID, domain.Price(ask), now) {
				sig.Blocked = BlockedCooldown
			} else {
				sig.Decision = risk.MaxAllowedQuantity(e.session.Ledger.Positions(), risk.Proposal{
					EventID:    eventID,
					MarketID:   sig.MarketID,
					Side:       sig.Side,
					DesiredQty: sig.DesiredQty,
					Price:      ask,
				}, capital, e.cfg.Limits)
			}
			signals = append(signals, sig)
		}
	}

	sort.Slice(signals, func(i, j int) bool { return signals[i].Edge > signals[j].Edge })

	blocked := 0
	for i := range signals {
		if !signals[i].Placeable() {
			blocked++
			continue
		}
		if e.cfg.PlaceEntries && e.deps.Entries != nil {
			signals[i].Filled = e.enter(ctx, signals[i])
		}
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.Signal(len(signals)-blocked, blocked)
	}
	return signals, nil
}

// marketsFor returns the venue markets paired with an external event, from
// the match cache when fresh.
func (e *Engine) marketsFor(ctx context.Context, key, eventID string) ([]domain.MarketQuote, error) {
	if m, ok := e.session.Cache.Get(key); ok {
		return m.Markets, nil
	}
	markets, err := e.deps.Quotes.GetMarkets(ctx, eventID)
	if err != nil {
		e.sourceError("quotes", err)
		return nil, err
	}
	if len(markets) == 0 {
		return nil, errors.New("no active quoted markets")
	}
	e.session.Cache.Set(key, eventID, markets)
	return markets, nil
}

// enter re-checks the proposal against the current ledger, since earlier
// signals of this pass may have filled, then places and books the order.
func (e *Engine) enter(ctx context.Context, s Signal) int {
	d := risk.MaxAllowedQuantity(e.session.Ledger.Positions(), risk.Proposal{
		EventID:    s.EventID,
		MarketID:   s.MarketID,
		Side:       s.Side,
		DesiredQty: s.DesiredQty,
		Price:      s.Ask,
	}, e.capital(ctx), e.cfg.Limits)
	if d.AllowedQty <= 0 {
		return 0
	}

	fill, err := e.deps.Entries.PlaceEntry(ctx, ports.EntryOrder{
		MarketID: s.MarketID,
		Side:     s.Side,
		Quantity: d.AllowedQty,
		Price:    s.Ask,
	})
	if err != nil {
		e.sourceError("entries", err)
		slog.Warn("signals: entry failed", "market", s.MarketID, "err", err)
		return 0
	}
	if fill.Quantity <= 0 {
		return 0
	}
	if err := e.RecordFill(ctx, Fill{
		MatchID:  s.ExternalID,
		EventID:  s.EventID,
		MarketID: s.MarketID,
		Side:     s.Side,
		Price:    fill.Price,
		Quantity: fill.Quantity,
	}); err != nil {
		slog.Warn("signals: fill not persisted", "market", s.MarketID, "err", err)
	}
	return fill.Quantity
}
