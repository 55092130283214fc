package portfolio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/application/matchcache"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

var t0 = time.Date(2025, 10, 16, 20, 0, 0, 0, time.UTC)

type fakeQuotes struct {
	markets   map[string]domain.MarketQuote
	byEvent   map[string][]domain.MarketQuote
	eventErr  error
	eventHits int
}

func (f *fakeQuotes) GetMarkets(_ context.Context, eventID string) ([]domain.MarketQuote, error) {
	f.eventHits++
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return f.byEvent[eventID], nil
}

func (f *fakeQuotes) GetMarket(_ context.Context, ticker string) (domain.MarketQuote, error) {
	q, ok := f.markets[ticker]
	if !ok {
		return domain.MarketQuote{}, &ports.SourceError{Source: "fake", Kind: ports.KindNotFound, Err: errors.New("no such market")}
	}
	return q, nil
}

type fakePositions struct {
	live []domain.LivePosition
	err  error
}

func (f *fakePositions) GetPositions(context.Context) ([]domain.LivePosition, error) {
	return f.live, f.err
}

type fakeBalance struct {
	balance float64
	err     error
}

func (f *fakeBalance) GetBalance(context.Context) (float64, error) { return f.balance, f.err }

type fakeExits struct {
	orders []ports.ExitOrder
	err    error
}

func (f *fakeExits) PlaceExit(_ context.Context, o ports.ExitOrder) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.orders = append(f.orders, o)
	return "exit-" + o.MarketID, nil
}

type fakeOrders struct {
	status    map[string]ports.OrderStatus
	getErr    error
	cancels   []string
	cancelErr error
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (ports.OrderStatus, error) {
	if f.getErr != nil {
		return ports.OrderStatus{}, f.getErr
	}
	st, ok := f.status[id]
	if !ok {
		return ports.OrderStatus{}, &ports.SourceError{Source: "fake", Kind: ports.KindNotFound, Err: errors.New("no such order")}
	}
	return st, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, id)
	return nil
}

type fakeEntries struct {
	orders []ports.EntryOrder
}

func (f *fakeEntries) PlaceEntry(_ context.Context, o ports.EntryOrder) (ports.Fill, error) {
	f.orders = append(f.orders, o)
	return ports.Fill{OrderID: "entry-1", Quantity: o.Quantity, Price: o.Price}, nil
}

type fakeOdds struct {
	events []domain.OddsEvent
	err    error
}

func (f *fakeOdds) GetOdds(context.Context) ([]domain.OddsEvent, error) { return f.events, f.err }

type memPositions struct {
	positions []domain.Position
	saves     int
}

func (m *memPositions) LoadPositions(context.Context) ([]domain.Position, int, error) {
	return m.positions, 0, nil
}

func (m *memPositions) SavePositions(_ context.Context, ps []domain.Position) error {
	m.positions = ps
	m.saves++
	return nil
}

type memStops struct {
	orders map[string]domain.StopOrder
}

func (m *memStops) LoadStopOrders(context.Context) (map[string]domain.StopOrder, error) {
	return m.orders, nil
}

func (m *memStops) SaveStopOrders(_ context.Context, o map[string]domain.StopOrder) error {
	m.orders = make(map[string]domain.StopOrder, len(o))
	for k, v := range o {
		m.orders[k] = v
	}
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	cycles int
	errors map[string]int
}

func (f *fakeMetrics) ObserveCycle(domain.CycleReport, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
}

func (f *fakeMetrics) SourceError(source string, _ ports.ErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errors == nil {
		f.errors = make(map[string]int)
	}
	f.errors[source]++
}

func (f *fakeMetrics) Signal(int, int) {}

type harness struct {
	engine    *Engine
	session   *Session
	store     *memPositions
	quotes    *fakeQuotes
	positions *fakePositions
	exits     *fakeExits
	stops     *memStops
	metrics   *fakeMetrics
	now       time.Time
}

func newHarness(mode Mode, seed ...domain.Position) *harness {
	store := &memPositions{}
	l := ledger.New(store, ledger.WithClock(func() time.Time { return t0 }))
	for _, p := range seed {
		l.Append(p)
	}
	sess := NewSession(mode, l, matchcache.New(), risk.NewCooldowns(risk.DefaultCooldown, true))
	h := &harness{
		session:   sess,
		store:     store,
		quotes:    &fakeQuotes{markets: map[string]domain.MarketQuote{}, byEvent: map[string][]domain.MarketQuote{}},
		positions: &fakePositions{},
		exits:     &fakeExits{},
		stops:     &memStops{},
		metrics:   &fakeMetrics{},
	}
	h.engine = New(Config{
		Mode:         mode,
		Capital:      10000,
		Limits:       risk.Limits{CapPct: 0.10, HedgeCapPct: 0.05},
		MinEdge:      0.03,
		StakeDollars: 50,
	}, sess, Deps{
		Quotes:    h.quotes,
		Positions: h.positions,
		Exits:     h.exits,
		Stops:     h.stops,
		Metrics:   h.metrics,
	})
	h.engine.SetClock(func() time.Time { return h.now })
	h.now = t0
	return h
}

// holdAll makes the venue report every open ledger position as held.
func (h *harness) holdAll() {
	h.positions.live = nil
	for _, p := range h.session.Ledger.Open() {
		h.positions.live = append(h.positions.live, domain.LivePosition{
			MarketID: p.MarketID, EventID: p.EventID, Side: p.Side, Quantity: p.Quantity, AvgPrice: p.EntryPrice,
		})
	}
}

func quote(ticker string, bid, ask float64) domain.MarketQuote {
	return domain.MarketQuote{Ticker: ticker, Status: "active", YesBid: domain.Price(bid), YesAsk: domain.Price(ask)}
}

func position(market string, side domain.Side, qty int, entry float64) domain.Position {
	return domain.Position{MarketID: market, Side: side, Quantity: qty, EntryPrice: entry, EffectiveEntry: entry}
}

type memTrades struct {
	trades  []domain.ClosedTrade
	dailies []domain.DailySummary
}

func (m *memTrades) SaveClosedTrade(_ context.Context, t domain.ClosedTrade) error {
	m.trades = append(m.trades, t)
	return nil
}

func (m *memTrades) GetClosedTrades(_ context.Context, _, _ time.Time) ([]domain.ClosedTrade, error) {
	return m.trades, nil
}

func (m *memTrades) SaveDailySummary(_ context.Context, d domain.DailySummary) error {
	m.dailies = append(m.dailies, d)
	return nil
}

func (m *memTrades) GetDailySummaries(_ context.Context) ([]domain.DailySummary, error) {
	return m.dailies, nil
}

func (m *memTrades) Close() error { return nil }
