// Package portfolio runs the position cycle: reconciliation, settlement,
// mark-to-market and stop monitoring, plus sizing of new entries.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/application/engine"
	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/domain/fairprob"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Config holds the engine settings.
type Config struct {
	Mode           Mode
	Capital        float64 // simulated capital; fallback base in live mode
	Limits         risk.Limits
	MinEdge        float64
	StakeDollars   float64
	StopLossDrop   float64
	TakeProfitRise float64
	PlaceEntries   bool
	Fees           FeeSchedule
}

// Deps are the collaborators of the engine. Entries, Odds, Matcher,
// Estimator, Cooldown, Trades, Notifier and Metrics are optional.
type Deps struct {
	Quotes    ports.QuoteSource
	Positions ports.PositionSource
	Balance   ports.BalanceSource
	Exits     ports.OrderExecutor
	Orders    ports.OrderTracker
	Entries   ports.EntryExecutor
	Odds      ports.OddsSource
	Matcher   engine.Matcher
	Estimator *fairprob.Estimator
	Stops     ports.StopOrderStore
	Cooldown  ports.CooldownStore
	Trades    ports.TradeLog
	Notifier  ports.Notifier
	Metrics   ports.Metrics
}

// CycleResult is everything one cycle produced.
type CycleResult struct {
	domain.CycleReport
	Reconcile ledger.ReconcileReport
}

// Snapshot is an immutable view of the portfolio published after each cycle.
type Snapshot struct {
	At        time.Time
	Capital   float64
	Positions []domain.Position
	Exposure  risk.ExposureSnapshot
	Report    domain.CycleReport
	Realized  float64
	Wins      int
	Losses    int
}

// Engine runs serialized portfolio cycles over a Session.
type Engine struct {
	cfg     Config
	session *Session
	deps    Deps
	now     func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a portfolio engine.
func New(cfg Config, session *Session, deps Deps) *Engine {
	return &Engine{cfg: cfg, session: session, deps: deps, now: time.Now}
}

// SetClock replaces time.Now, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Session returns the session the engine drives.
func (e *Engine) Session() *Session {
	return e.session
}

// Restore loads persisted stop orders and cooldowns into the session.
func (e *Engine) Restore(ctx context.Context) error {
	if e.deps.Stops != nil {
		orders, err := e.deps.Stops.LoadStopOrders(ctx)
		if err != nil {
			return fmt.Errorf("portfolio.Restore: stop orders: %w", err)
		}
		for k, v := range orders {
			e.session.StopOrders[domain.NormalizeTicker(k)] = v
		}
	}
	if e.deps.Cooldown != nil {
		cds, err := e.deps.Cooldown.LoadCooldowns(ctx)
		if err != nil {
			return fmt.Errorf("portfolio.Restore: cooldowns: %w", err)
		}
		e.session.Cooldowns.Restore(cds)
		e.session.Cooldowns.Prune(e.now())
	}
	return nil
}

// RunOnce executes one portfolio cycle. Orchestrates: quotes → resolution
// settlement → reconciliation → exit review → mark-to-market → stops →
// persist → publish.
func (e *Engine) RunOnce(ctx context.Context) (*CycleResult, error) {
	start := e.now()
	res := &CycleResult{}
	res.Mode = string(e.cfg.Mode)
	res.At = start
	before := len(e.session.Closed)

	// 1. Quotes for every open position
	quotes := make(map[string]domain.MarketQuote)
	tried := make(map[string]bool)
	e.fetchQuotes(ctx, e.session.Ledger.Open(), quotes, tried)

	// 2. Resolution settlement: the venue reports a final result
	if e.cfg.Mode == ModeLive {
		e.settleResolved(quotes, start)
	}

	// 3. Reconciliation against venue holdings
	e.reconcile(ctx, start, res)
	e.fetchQuotes(ctx, e.session.Ledger.Open(), quotes, tried)

	// 4. Exits that will not fill release their position
	e.reviewExits(ctx, start, res)

	// 5. Mark-to-market
	e.markToMarket(quotes, res)

	// 6. Stop-loss / take-profit
	e.scanStops(ctx, quotes, start, res)

	// 7. Persist
	res.Closed = append([]domain.ClosedTrade(nil), e.session.Closed[before:]...)
	if err := e.persist(ctx, res); err != nil {
		return nil, fmt.Errorf("portfolio.RunOnce: %w", err)
	}

	// 8. Valuation and publication
	base := e.capital(ctx)
	res.Realized = e.session.Realized
	res.Equity = Equity(base, e.session.Realized, res.Marks)
	res.Wins, res.Losses = e.session.Wins, e.session.Losses
	snapExp := risk.Snapshot(e.session.Ledger.Positions())
	res.Exposure = snapExp.Total
	e.session.ExitsPlaced += res.ExitsPlaced
	e.saveDaily(ctx, res)

	e.publish(Snapshot{
		At:        start,
		Capital:   base,
		Positions: e.session.Ledger.Positions(),
		Exposure:  snapExp,
		Report:    res.CycleReport,
		Realized:  e.session.Realized,
		Wins:      e.session.Wins,
		Losses:    e.session.Losses,
	})

	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyCycle(ctx, res.CycleReport); err != nil {
			slog.Warn("portfolio: notifier error", "err", err)
		}
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveCycle(res.CycleReport, e.now().Sub(start))
	}
	return res, nil
}

// fetchQuotes fills quotes for the markets of positions not yet tried this
// cycle. A failed fetch leaves that market unquoted until the next cycle.
func (e *Engine) fetchQuotes(ctx context.Context, positions []domain.Position, quotes map[string]domain.MarketQuote, tried map[string]bool) {
	for _, p := range positions {
		if tried[p.MarketID] {
			continue
		}
		tried[p.MarketID] = true
		q, err := e.deps.Quotes.GetMarket(ctx, p.MarketID)
		if err != nil {
			e.sourceError("quotes", err)
			slog.Warn("portfolio: no quote this cycle", "market", p.MarketID, "kind", ports.KindOf(err), "err", err)
			continue
		}
		quotes[p.MarketID] = q
	}
}

// settleResolved realizes every open position whose market reports a final
// result. Settled positions are never revisited.
func (e *Engine) settleResolved(quotes map[string]domain.MarketQuote, now time.Time) {
	for _, p := range e.session.Ledger.Open() {
		q, ok := quotes[p.MarketID]
		if !ok || !q.IsTerminal() {
			continue
		}
		outcome, ok := q.Outcome()
		if !ok {
			continue
		}
		trade := e.cfg.Fees.RealizeResolution(p, outcome, now)
		if !e.session.Ledger.MarkSettled(p.Key(), domain.ExitResolved, now) {
			continue
		}
		e.session.Record(trade)
		delete(e.session.StopOrders, p.MarketID)
		slog.Info("settlement: market resolved",
			"market", p.MarketID, "side", p.Side, "result", outcome,
			"qty", trade.Quantity, "pnl", fmt.Sprintf("$%.2f", trade.RealizedPnL))
	}
}

// reconcile merges venue holdings into the ledger and books what left it.
// On fetch failure the ledger is left untouched.
func (e *Engine) reconcile(ctx context.Context, now time.Time, res *CycleResult) {
	live, err := e.deps.Positions.GetPositions(ctx)
	if err != nil {
		e.sourceError("positions", err)
		slog.Warn("reconcile: skipped, keeping local state", "kind", ports.KindOf(err), "err", err)
		res.ReconcileSkip = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("reconcile skipped: %v", err))
		return
	}

	merged, rep := ledger.Reconcile(e.session.Ledger.Positions(), live, now)
	trades := e.cfg.Fees.reconcileTrades(rep, now)

	e.session.Ledger.Replace(merged)
	e.session.Record(trades...)

	for _, p := range rep.Vanished {
		delete(e.session.StopOrders, p.MarketID)
	}
	for _, p := range rep.Exited {
		delete(e.session.StopOrders, p.MarketID)
	}
	for _, pe := range rep.Partial {
		delete(e.session.StopOrders, pe.Position.MarketID)
		e.cancelRemainder(ctx, pe.Position)
	}
	for _, p := range rep.Added {
		slog.Info("reconcile: added venue fill", "market", p.MarketID, "side", p.Side, "qty", p.Quantity, "avg_price", p.EntryPrice)
		if p.EntryPrice <= 0 {
			slog.Warn("reconcile: venue reported no average price, entry unknown", "market", p.MarketID, "side", p.Side)
		}
	}
	for _, r := range rep.Resized {
		slog.Info("reconcile: adopted venue quantity",
			"market", r.Position.MarketID, "side", r.Position.Side, "was", r.Position.Quantity, "now", r.Quantity)
	}
	for _, t := range trades {
		slog.Info("reconcile: position closed",
			"market", t.MarketID, "side", t.Side, "reason", t.Reason,
			"qty", t.Quantity, "exit", t.ExitPrice, "pnl", fmt.Sprintf("$%.2f", t.RealizedPnL))
	}
	res.Reconcile = rep
	res.Added = len(rep.Added)
}

// cancelRemainder cancels what is left of a partly filled exit order, so the
// re-armed monitor cannot sell the same contracts twice.
func (e *Engine) cancelRemainder(ctx context.Context, p domain.Position) {
	if e.deps.Orders == nil || p.ExitOrderID == "" {
		return
	}
	err := e.deps.Orders.CancelOrder(ctx, p.ExitOrderID)
	if err != nil && ports.KindOf(err) != ports.KindNotFound {
		e.sourceError("orders", err)
		slog.Warn("reconcile: could not cancel rest of partial exit", "market", p.MarketID, "order_id", p.ExitOrderID, "err", err)
	}
}

func (e *Engine) markToMarket(quotes map[string]domain.MarketQuote, res *CycleResult) {
	for _, p := range e.session.Ledger.Open() {
		m := domain.PositionMark{Position: p}
		var q *domain.MarketQuote
		if mq, ok := quotes[p.MarketID]; ok {
			q = &mq
		}
		if price, unrealized, ok := Mark(p, q); ok {
			m.Price = domain.Price(price)
			m.Unrealized = unrealized
			e.session.Ledger.SetLastPrice(p.Key(), price)
		}
		res.Unrealized += m.Unrealized
		res.Marks = append(res.Marks, m)
	}
}

// persist rewrites the position and stop-order documents after every cycle
// and appends the cycle's closed trades to the trade log.
func (e *Engine) persist(ctx context.Context, res *CycleResult) error {
	if err := e.session.Ledger.Save(ctx); err != nil {
		return err
	}
	if e.deps.Stops != nil {
		if err := e.deps.Stops.SaveStopOrders(ctx, e.session.StopOrders); err != nil {
			return fmt.Errorf("save stop orders: %w", err)
		}
	}
	if e.deps.Cooldown != nil {
		if err := e.deps.Cooldown.SaveCooldowns(ctx, e.session.Cooldowns.Entries()); err != nil {
			slog.Warn("portfolio: could not persist cooldowns", "err", err)
		}
	}
	if e.deps.Trades != nil {
		for _, t := range res.Closed {
			if err := e.deps.Trades.SaveClosedTrade(ctx, t); err != nil {
				slog.Warn("portfolio: could not log closed trade", "market", t.MarketID, "err", err)
			}
		}
	}
	return nil
}

// saveDaily upserts today's summary with the session totals.
func (e *Engine) saveDaily(ctx context.Context, res *CycleResult) {
	if e.deps.Trades == nil {
		return
	}
	d := domain.DailySummary{
		Date:          res.At,
		OpenPositions: len(res.Marks),
		Exposure:      res.Exposure,
		RealizedPnL:   e.session.Realized,
		UnrealizedPnL: res.Unrealized,
		Equity:        res.Equity,
		Wins:          e.session.Wins,
		Losses:        e.session.Losses,
		Settlements:   len(e.session.Closed),
		ExitsPlaced:   e.session.ExitsPlaced,
	}
	if err := e.deps.Trades.SaveDailySummary(ctx, d); err != nil {
		slog.Warn("portfolio: could not save daily summary", "err", err)
	}
}

// capital is the valuation base: simulated capital, or the live cash balance
// with the last known balance as fallback.
func (e *Engine) capital(ctx context.Context) float64 {
	if e.cfg.Mode != ModeLive || e.deps.Balance == nil {
		return e.cfg.Capital
	}
	b, err := e.deps.Balance.GetBalance(ctx)
	if err != nil {
		e.sourceError("balance", err)
		slog.Warn("portfolio: balance unavailable, using last known", "err", err)
		if e.session.LastBalance > 0 {
			return e.session.LastBalance
		}
		return e.cfg.Capital
	}
	e.session.LastBalance = b
	return b
}

func (e *Engine) publish(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = s
}

// Snapshot returns the last published portfolio view. Safe for concurrent use.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// CheckOrder sizes a proposal against the last published snapshot. Safe for
// concurrent use.
func (e *Engine) CheckOrder(prop risk.Proposal) risk.Decision {
	s := e.Snapshot()
	capital := s.Capital
	if capital <= 0 {
		capital = e.cfg.Capital
	}
	return risk.MaxAllowedQuantity(s.Positions, prop, capital, e.cfg.Limits)
}

// Fill is an executed entry to book into the ledger.
type Fill struct {
	MatchID  string
	EventID  string
	MarketID string
	Side     domain.Side
	Price    float64
	Quantity int
}

// RecordFill books an entry fill, attaching the configured stop-loss and
// take-profit levels, and persists the ledger.
func (e *Engine) RecordFill(ctx context.Context, f Fill) error {
	if f.Quantity <= 0 || f.Price <= 0 || f.Price >= 1 {
		return fmt.Errorf("portfolio.RecordFill: invalid fill qty=%d price=%v", f.Quantity, f.Price)
	}
	p := domain.Position{
		MatchID:        f.MatchID,
		EventID:        f.EventID,
		MarketID:       f.MarketID,
		Side:           f.Side,
		EntryPrice:     f.Price,
		EffectiveEntry: f.Price,
		Quantity:       f.Quantity,
		EntryTime:      e.now(),
	}
	if d := e.cfg.StopLossDrop; d > 0 && f.Price-d > 0 {
		p.StopLoss = domain.Price(roundCents(f.Price - d))
	}
	if r := e.cfg.TakeProfitRise; r > 0 && f.Price+r < 1 {
		p.TakeProfit = domain.Price(roundCents(f.Price + r))
	}
	merged := e.session.Ledger.Append(p)
	slog.Info("portfolio: fill recorded",
		"market", f.MarketID, "side", f.Side, "qty", f.Quantity, "price", f.Price, "merged", merged)
	if err := e.session.Ledger.Save(ctx); err != nil {
		return fmt.Errorf("portfolio.RecordFill: %w", err)
	}
	return nil
}

func (e *Engine) sourceError(source string, err error) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.SourceError(source, ports.KindOf(err))
	}
}
