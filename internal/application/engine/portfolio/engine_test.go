package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const market = "KXNBA-25OCT16-LAL"

func TestRunOnce_MarkToMarketScenario(t *testing.T) {
	h := newHarness(ModeSim, position(market, domain.SideYes, 50, 0.40))
	h.holdAll()
	h.quotes.markets[market] = quote(market, 0.55, 0.57)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0.01, domain.FeePerContract(0.55, true))
	assert.InDelta(t, 7.00, res.Unrealized, 1e-9)
	assert.InDelta(t, 10007.00, res.Equity, 1e-9)
	require.Len(t, res.Marks, 1)
	assert.Equal(t, 0.55, *res.Marks[0].Price)

	p, ok := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	require.True(t, ok)
	require.NotNil(t, p.LastPrice)
	assert.Equal(t, 0.55, *p.LastPrice)
	assert.Equal(t, 1, h.store.saves)
	assert.Equal(t, 1, h.metrics.cycles)
}

func TestRunOnce_NoQuoteUsesLastMark(t *testing.T) {
	p := position(market, domain.SideYes, 50, 0.40)
	p.LastPrice = domain.Price(0.55)
	h := newHarness(ModeSim, p)
	h.holdAll()

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 7.00, res.Unrealized, 1e-9)
	assert.Equal(t, 1, h.metrics.errors["quotes"])
}

func TestRunOnce_ReconcileFailureKeepsLedger(t *testing.T) {
	h := newHarness(ModeSim, position(market, domain.SideYes, 50, 0.40))
	h.positions.err = &ports.SourceError{Source: "fake", Kind: ports.KindTimeout, Err: errors.New("slow")}
	before := h.session.Ledger.Positions()

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.ReconcileSkip)
	assert.Len(t, h.session.Ledger.Open(), 1)
	assert.Equal(t, before[0].Quantity, h.session.Ledger.Positions()[0].Quantity)
	assert.Empty(t, res.Closed)
	assert.Equal(t, 1, h.metrics.errors["positions"])
}

func TestRunOnce_VanishedRealizedAtOwnLastMark(t *testing.T) {
	gone := position(market, domain.SideYes, 50, 0.40)
	gone.LastPrice = domain.Price(0.55)
	other := position("KXNBA-25OCT16-BOS", domain.SideYes, 10, 0.30)
	other.LastPrice = domain.Price(0.10)
	h := newHarness(ModeSim, gone, other)
	h.positions.live = []domain.LivePosition{{MarketID: "KXNBA-25OCT16-BOS", Side: domain.SideYes, Quantity: 10}}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Closed, 1)
	tr := res.Closed[0]
	assert.Equal(t, domain.ExitVanished, tr.Reason)
	assert.Equal(t, 50, tr.Quantity)
	// (0.55 − 0.40) − 0.01 maker exit − 0.02 taker entry = 0.12 per contract
	assert.InDelta(t, 6.00, tr.RealizedPnL, 1e-9)
	assert.InDelta(t, 6.00, h.session.Realized, 1e-9)
	assert.Equal(t, 1, h.session.Wins)
	assert.Len(t, h.session.Ledger.Open(), 1)
}

func TestRunOnce_ResolutionSettlement(t *testing.T) {
	h := newHarness(ModeLive,
		position("KXA-1-WIN", domain.SideYes, 10, 0.40),
		position("KXB-1-LOSE", domain.SideYes, 10, 0.40),
	)
	h.quotes.markets["KXA-1-WIN"] = domain.MarketQuote{Ticker: "KXA-1-WIN", Status: "finalized", Result: "yes"}
	h.quotes.markets["KXB-1-LOSE"] = domain.MarketQuote{Ticker: "KXB-1-LOSE", Status: "settled", Result: "no"}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Closed, 2)
	assert.InDelta(t, 5.80, res.Closed[0].RealizedPnL, 1e-9)
	assert.InDelta(t, -4.20, res.Closed[1].RealizedPnL, 1e-9)
	assert.Equal(t, 1, h.session.Wins)
	assert.Equal(t, 1, h.session.Losses)
	assert.InDelta(t, 1.60, h.session.Realized, 1e-9)
	assert.Empty(t, h.session.Ledger.Open())

	// Idempotent: nothing changes on the next cycle.
	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.InDelta(t, 1.60, h.session.Realized, 1e-9)
	assert.Equal(t, 1, h.session.Wins)
	assert.Equal(t, 1, h.session.Losses)
}

func TestRunOnce_ResolutionIgnoredInSimMode(t *testing.T) {
	h := newHarness(ModeSim, position("KXA-1-WIN", domain.SideYes, 10, 0.40))
	h.holdAll()
	h.quotes.markets["KXA-1-WIN"] = domain.MarketQuote{Ticker: "KXA-1-WIN", Status: "finalized", Result: "yes"}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
}

func TestRunOnce_StopLossLifecycle(t *testing.T) {
	p := position(market, domain.SideYes, 10, 0.50)
	p.StopLoss = domain.Price(0.40)
	h := newHarness(ModeSim, p)
	h.holdAll()
	h.quotes.markets[market] = quote(market, 0.38, 0.40)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitsPlaced)
	require.Len(t, h.exits.orders, 1)
	assert.Equal(t, ports.ExitOrder{MarketID: market, Side: domain.SideYes, Quantity: 10, Price: 0.38, Reason: domain.ExitStopLoss}, h.exits.orders[0])

	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.True(t, got.ClosingInProgress)
	assert.Equal(t, domain.ExitStopLoss, got.ExitReason)
	assert.Equal(t, "exit-"+market, got.ExitOrderID)
	assert.Contains(t, h.stops.orders, market)
	assert.True(t, h.session.Cooldowns.Active("KXNBA-25OCT16", nil, t0))

	// Closing positions are not re-triggered.
	_, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.exits.orders, 1)

	// The exit fills: the venue drops the position.
	h.positions.live = nil
	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.ExitStopLoss, res.Closed[0].Reason)
	assert.InDelta(t, -1.50, res.Closed[0].RealizedPnL, 1e-9)
	assert.Equal(t, 1, h.session.Losses)
	assert.NotContains(t, h.stops.orders, market)
}

func TestRunOnce_TakeProfitOnNoSide(t *testing.T) {
	p := position(market, domain.SideNo, 10, 0.30)
	p.TakeProfit = domain.Price(0.45)
	h := newHarness(ModeSim, p)
	h.holdAll()
	h.quotes.markets[market] = quote(market, 0.50, 0.54)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitsPlaced)
	assert.Equal(t, domain.ExitTakeProfit, h.exits.orders[0].Reason)
	assert.InDelta(t, 0.46, h.exits.orders[0].Price, 1e-9)
	assert.False(t, h.session.Cooldowns.Active("KXNBA-25OCT16", nil, t0), "take-profit does not start a cooldown")
}

func TestRunOnce_ExitFailureLeavesPositionOpen(t *testing.T) {
	p := position(market, domain.SideYes, 10, 0.50)
	p.StopLoss = domain.Price(0.40)
	h := newHarness(ModeSim, p)
	h.holdAll()
	h.quotes.markets[market] = quote(market, 0.38, 0.40)
	h.exits.err = errors.New("rejected")

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitsPlaced)
	assert.NotEmpty(t, res.Warnings)
	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.False(t, got.ClosingInProgress)
}

func TestRunOnce_LiveBalanceIsBase(t *testing.T) {
	h := newHarness(ModeLive)
	h.engine.deps.Balance = &fakeBalance{balance: 812.5}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 812.5, res.Equity, 1e-9)

	h.engine.deps.Balance = &fakeBalance{err: errors.New("down")}
	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 812.5, res.Equity, 1e-9, "falls back to the last known balance")
}

func TestCheckOrder_UsesPublishedSnapshot(t *testing.T) {
	h := newHarness(ModeSim, position(market, domain.SideYes, 250, 0.40))
	h.holdAll()
	h.quotes.markets[market] = quote(market, 0.40, 0.42)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	d := h.engine.CheckOrder(risk.Proposal{EventID: "KXNBA-25OCT16", MarketID: market, Side: domain.SideYes, DesiredQty: 10000, Price: 0.40})
	assert.True(t, d.Scaled)
	// $100 already used of a $1,000 cap.
	assert.LessOrEqual(t, domain.TotalCost(d.AllowedQty, 0.40, false), 900.0)

	snap := h.engine.Snapshot()
	assert.InDelta(t, 100.0, snap.Exposure.Total, 1e-9)
	assert.Len(t, snap.Positions, 1)
}

func TestRecordFill_AttachesThresholdsAndMerges(t *testing.T) {
	h := newHarness(ModeSim)
	h.engine.cfg.StopLossDrop = 0.15
	h.engine.cfg.TakeProfitRise = 0.25

	require.NoError(t, h.engine.RecordFill(context.Background(), Fill{MarketID: market, EventID: "KXNBA-25OCT16", Side: domain.SideYes, Price: 0.40, Quantity: 10}))
	require.NoError(t, h.engine.RecordFill(context.Background(), Fill{MarketID: market, EventID: "KXNBA-25OCT16", Side: domain.SideYes, Price: 0.50, Quantity: 10}))

	open := h.session.Ledger.Open()
	require.Len(t, open, 1)
	assert.Equal(t, 20, open[0].Quantity)
	assert.InDelta(t, 0.45, open[0].EntryPrice, 1e-12)
	assert.Equal(t, 0.35, *open[0].StopLoss)
	assert.Equal(t, 0.75, *open[0].TakeProfit)
	assert.Equal(t, 2, h.store.saves)

	assert.Error(t, h.engine.RecordFill(context.Background(), Fill{MarketID: market, Side: domain.SideYes, Price: 0, Quantity: 1}))
}

func TestRestore(t *testing.T) {
	h := newHarness(ModeSim)
	h.stops.orders = map[string]domain.StopOrder{"kxa-1-b": {MarketID: "KXA-1-B", OrderID: "o"}}

	require.NoError(t, h.engine.Restore(context.Background()))
	assert.Contains(t, h.session.StopOrders, "KXA-1-B")
}

func TestRunOnce_LogsClosedTradesAndDailySummary(t *testing.T) {
	gone := position(market, domain.SideYes, 50, 0.40)
	gone.LastPrice = domain.Price(0.55)
	h := newHarness(ModeSim, gone)
	trades := &memTrades{}
	h.engine.deps.Trades = trades

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, trades.trades, 1)
	assert.Equal(t, domain.ExitVanished, trades.trades[0].Reason)

	require.Len(t, trades.dailies, 2)
	last := trades.dailies[1]
	assert.InDelta(t, 6.00, last.RealizedPnL, 1e-9)
	assert.Equal(t, 1, last.Wins)
	assert.Equal(t, 1, last.Settlements)
	assert.Equal(t, 0, last.OpenPositions)
	assert.InDelta(t, 10006.00, last.Equity, 1e-9)
}

func TestRunOnce_EntryFeeFollowsSchedule(t *testing.T) {
	gone := position(market, domain.SideYes, 50, 0.40)
	gone.LastPrice = domain.Price(0.55)
	h := newHarness(ModeSim, gone)
	h.engine.cfg.Fees = FeeSchedule{EntryMaker: true}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.InDelta(t, 6.50, res.Closed[0].RealizedPnL, 1e-9)
}

func TestRunOnce_ResolutionEntryFeeFollowsSchedule(t *testing.T) {
	h := newHarness(ModeLive, position("KXA-1-WIN", domain.SideYes, 10, 0.40))
	h.engine.cfg.Fees = FeeSchedule{EntryMaker: true}
	h.quotes.markets["KXA-1-WIN"] = domain.MarketQuote{Ticker: "KXA-1-WIN", Status: "finalized", Result: "yes"}

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.InDelta(t, 5.90, res.Closed[0].RealizedPnL, 1e-9)
}

func TestRunOnce_VenueSaleOutsideExitIsRealized(t *testing.T) {
	p := position(market, domain.SideYes, 10, 0.40)
	p.LastPrice = domain.Price(0.55)
	h := newHarness(ModeSim, p)
	h.positions.live = []domain.LivePosition{{MarketID: market, Side: domain.SideYes, Quantity: 6, AvgPrice: 0.40}}
	h.quotes.markets[market] = quote(market, 0.55, 0.57)

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.ExitPartial, res.Closed[0].Reason)
	assert.Equal(t, 4, res.Closed[0].Quantity)
	assert.InDelta(t, 0.48, res.Closed[0].RealizedPnL, 1e-9)
	require.Len(t, res.Reconcile.Resized, 1)

	got, ok := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	require.True(t, ok)
	assert.Equal(t, 6, got.Quantity)
	// marks follow the venue quantity: 6 × (0.55 − 0.40 − 0.01)
	assert.InDelta(t, 0.84, res.Unrealized, 1e-9)

	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
}

// stopAt seeds a position whose stop fires at the 0.38 bid and runs the
// cycle that places its exit.
func stopAt(t *testing.T, mode Mode) *harness {
	t.Helper()
	p := position(market, domain.SideYes, 10, 0.50)
	p.StopLoss = domain.Price(0.40)
	h := newHarness(mode, p)
	h.holdAll()
	h.quotes.markets[market] = quote(market, 0.38, 0.40)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, h.exits.orders, 1)
	return h
}

func TestRunOnce_UnfilledExitReleasedAfterWindow(t *testing.T) {
	h := stopAt(t, ModeSim)

	// the venue keeps the whole holding: the exit is not filling
	h.now = t0.Add(ledger.StaleClosingAfter - time.Second)
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.exits.orders, 1)

	h.now = t0.Add(time.Hour)
	h.quotes.markets[market] = quote(market, 0.20, 0.22)
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.NotEmpty(t, res.Warnings)

	require.Len(t, h.exits.orders, 2)
	assert.Equal(t, 0.20, h.exits.orders[1].Price)
	assert.Equal(t, 10, h.exits.orders[1].Quantity)
	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.True(t, got.ClosingInProgress)
	assert.Equal(t, 0.20, *got.LastExitPrice)
	assert.Equal(t, h.now, *got.ClosingSince)
}

func TestRunOnce_UnfilledExitKeptWhileReconcileFails(t *testing.T) {
	h := stopAt(t, ModeSim)
	h.positions.err = &ports.SourceError{Source: "fake", Kind: ports.KindTimeout, Err: errors.New("slow")}
	h.now = t0.Add(time.Hour)

	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.True(t, got.ClosingInProgress)
	assert.Len(t, h.exits.orders, 1)
}

func TestRunOnce_RestingExitCanceledWhenStale(t *testing.T) {
	h := stopAt(t, ModeLive)
	orders := &fakeOrders{status: map[string]ports.OrderStatus{
		"exit-" + market: {OrderID: "exit-" + market, Status: ports.OrderResting, Remaining: 10},
	}}
	h.engine.deps.Orders = orders

	h.now = t0.Add(time.Minute)
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders.cancels)
	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.True(t, got.ClosingInProgress)
	assert.Len(t, h.exits.orders, 1)

	h.now = t0.Add(ledger.StaleClosingAfter)
	_, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"exit-" + market}, orders.cancels)
	require.Len(t, h.exits.orders, 2, "the still-triggered stop is placed again")
	assert.Equal(t, 10, h.exits.orders[1].Quantity)
}

func TestRunOnce_CanceledExitReleasedAtOnce(t *testing.T) {
	h := stopAt(t, ModeLive)
	h.engine.deps.Orders = &fakeOrders{status: map[string]ports.OrderStatus{
		"exit-" + market: {OrderID: "exit-" + market, Status: ports.OrderCanceled},
	}}
	h.quotes.markets[market] = quote(market, 0.45, 0.47)

	h.now = t0.Add(time.Minute)
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.False(t, got.ClosingInProgress)
	assert.Empty(t, got.ExitOrderID)
	assert.Equal(t, 10, got.Quantity)
	assert.NotContains(t, h.stops.orders, market)
}

func TestRunOnce_CanceledExitBooksItsFill(t *testing.T) {
	h := stopAt(t, ModeLive)
	h.engine.deps.Orders = &fakeOrders{status: map[string]ports.OrderStatus{
		"exit-" + market: {OrderID: "exit-" + market, Status: ports.OrderCanceled, Filled: 4, Remaining: 0},
	}}
	h.quotes.markets[market] = quote(market, 0.45, 0.47)

	h.now = t0.Add(time.Minute)
	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, 4, res.Closed[0].Quantity)
	assert.Equal(t, domain.ExitStopLoss, res.Closed[0].Reason)
	assert.Equal(t, 0.38, res.Closed[0].ExitPrice)
	// (0.38 − 0.50) − 0.01 − 0.02 = −0.15 per contract
	assert.InDelta(t, -0.60, res.Closed[0].RealizedPnL, 1e-9)

	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.False(t, got.ClosingInProgress)
	assert.Equal(t, 6, got.Quantity)

	// the venue catches up: nothing is booked twice
	h.positions.live[0].Quantity = 6
	res, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Closed)
	assert.Empty(t, res.Reconcile.Resized)
	assert.Len(t, h.session.Closed, 1)
}

func TestRunOnce_ExitOrderLookup(t *testing.T) {
	h := stopAt(t, ModeLive)
	orders := &fakeOrders{status: map[string]ports.OrderStatus{
		"exit-" + market: {OrderID: "exit-" + market, Status: ports.OrderExecuted, Filled: 10},
	}}
	h.engine.deps.Orders = orders
	h.now = t0.Add(time.Hour)

	// executed: reconciliation books it once the venue drops the holding
	_, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	got, _ := h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.True(t, got.ClosingInProgress)
	assert.Empty(t, orders.cancels)

	// lookup failures leave the position closing
	orders.getErr = &ports.SourceError{Source: "fake", Kind: ports.KindTimeout, Err: errors.New("slow")}
	_, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	got, _ = h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.True(t, got.ClosingInProgress)
	assert.Equal(t, 1, h.metrics.errors["orders"])

	// an order the venue does not know is released
	orders.getErr = nil
	orders.status = nil
	h.quotes.markets[market] = quote(market, 0.45, 0.47)
	_, err = h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	got, _ = h.session.Ledger.Get(domain.KeyOf(market, domain.SideYes))
	assert.False(t, got.ClosingInProgress)
}

func TestRunOnce_PartialExitCancelsRemainder(t *testing.T) {
	h := stopAt(t, ModeLive)
	orders := &fakeOrders{}
	h.engine.deps.Orders = orders
	h.positions.live[0].Quantity = 6

	res, err := h.engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Reconcile.Partial, 1)
	assert.Equal(t, []string{"exit-" + market}, orders.cancels)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, 4, res.Closed[0].Quantity)

	require.Len(t, h.exits.orders, 2)
	assert.Equal(t, 6, h.exits.orders[1].Quantity)
}
