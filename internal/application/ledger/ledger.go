// Package ledger is the in-process record of open, closing and settled
// positions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// StaleClosingAfter is how long an unfilled exit keeps a position closing
// before it is released and monitored again, across restarts too.
const StaleClosingAfter = 5 * time.Minute

// Ledger owns the position list. It is not safe for concurrent use: a single
// cycle mutates it at a time.
type Ledger struct {
	positions []domain.Position
	store     ports.PositionStore
	now       func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger backed by store.
func New(store ports.PositionStore, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LoadReport summarizes what the load boundary repaired.
type LoadReport struct {
	Loaded     int
	Dropped    int
	Duplicates int
}

// Load replaces the ledger with the persisted document. Records the store
// could not decode and invalid records are dropped with a warning; the rest
// are normalized and deduplicated.
func (l *Ledger) Load(ctx context.Context) (LoadReport, error) {
	raw, skipped, err := l.store.LoadPositions(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("ledger.Load: %w", err)
	}

	now := l.now()
	valid := make([]domain.Position, 0, len(raw))
	rep := LoadReport{Dropped: skipped}
	for i, p := range raw {
		p = Normalize(p, now)
		if err := Validate(p); err != nil {
			slog.Warn("ledger: dropping invalid position", "index", i, "market", p.MarketID, "err", err)
			rep.Dropped++
			continue
		}
		valid = append(valid, p)
	}

	deduped, removed := Deduplicate(valid)
	rep.Duplicates = removed
	rep.Loaded = len(deduped)
	l.positions = deduped

	slog.Info("ledger: loaded positions",
		"loaded", rep.Loaded, "open", len(l.Open()), "dropped", rep.Dropped, "duplicates", rep.Duplicates)
	return rep, nil
}

// Save rewrites the whole persisted document.
func (l *Ledger) Save(ctx context.Context) error {
	if err := l.store.SavePositions(ctx, l.Positions()); err != nil {
		return fmt.Errorf("ledger.Save: %w", err)
	}
	return nil
}

// Validate checks the required fields of a persisted position.
func Validate(p domain.Position) error {
	var errs []error
	if p.MarketID == "" {
		errs = append(errs, errors.New("missing market_id"))
	}
	if _, ok := domain.ParseSide(string(p.Side)); !ok {
		errs = append(errs, fmt.Errorf("side %q is not yes/no", p.Side))
	}
	if p.EntryPrice < 0 || p.EntryPrice > 1 {
		errs = append(errs, fmt.Errorf("entry_price %v out of [0,1]", p.EntryPrice))
	}
	if p.Quantity < 0 {
		errs = append(errs, fmt.Errorf("quantity %d is negative", p.Quantity))
	}
	return errors.Join(errs...)
}

// Normalize fills defaults and repairs fields of a loaded or created
// position. It is idempotent.
func Normalize(p domain.Position, now time.Time) domain.Position {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.MatchID = strings.TrimSpace(p.MatchID)
	p.MarketID = domain.NormalizeTicker(p.MarketID)
	p.EventID = domain.NormalizeTicker(p.EventID)
	if s, ok := domain.ParseSide(string(p.Side)); ok {
		p.Side = s
	}
	if p.MatchID == "" {
		p.MatchID = p.MarketID
	}

	if derived := domain.EventFromMarket(p.MarketID); derived != "" {
		if p.EventID == "" || p.EventID == p.MarketID || len(strings.Split(p.EventID, "-")) > 3 {
			p.EventID = derived
		}
	}

	if p.EffectiveEntry <= 0 {
		p.EffectiveEntry = p.EntryPrice
	}
	if p.EntryTime.IsZero() {
		p.EntryTime = now
	}

	if p.ClosingInProgress && (p.ClosingSince == nil || now.Sub(*p.ClosingSince) > StaleClosingAfter) {
		p.ClosingInProgress = false
		p.ClosingSince = nil
		p.ExitOrderID = ""
	}
	if p.Settled {
		p.ClosingInProgress = false
		p.ClosingSince = nil
	}
	return p
}

// Deduplicate collapses non-settled positions that share (market, side),
// keeping the one with the larger quantity. Only for the load boundary:
// during trading, distinct fills are merged by Append instead.
func Deduplicate(positions []domain.Position) ([]domain.Position, int) {
	best := make(map[domain.PositionKey]int)
	out := make([]domain.Position, 0, len(positions))
	removed := 0
	for _, p := range positions {
		if p.Settled {
			out = append(out, p)
			continue
		}
		k := p.Key()
		if i, ok := best[k]; ok {
			removed++
			slog.Warn("ledger: duplicate position", "market", p.MarketID, "side", p.Side,
				"kept_qty", max(out[i].Quantity, p.Quantity))
			if p.Quantity > out[i].Quantity {
				out[i] = p
			}
			continue
		}
		best[k] = len(out)
		out = append(out, p)
	}
	return out, removed
}

// Append adds a filled position. A fill on a (market, side) that already has
// a non-settled position is merged into it with quantity-weighted entry
// prices, so the key stays unique. It reports whether a merge happened.
func (l *Ledger) Append(p domain.Position) bool {
	p = Normalize(p, l.now())
	var merged bool
	l.positions, merged = appendPosition(l.positions, p)
	return merged
}

func appendPosition(positions []domain.Position, p domain.Position) ([]domain.Position, bool) {
	k := p.Key()
	for i := range positions {
		ex := &positions[i]
		if ex.Settled || ex.Key() != k {
			continue
		}
		total := ex.Quantity + p.Quantity
		if total > 0 {
			ex.EntryPrice = (ex.EntryPrice*float64(ex.Quantity) + p.EntryPrice*float64(p.Quantity)) / float64(total)
			ex.EffectiveEntry = (ex.Entry()*float64(ex.Quantity) + p.Entry()*float64(p.Quantity)) / float64(total)
		}
		ex.Quantity = total
		if p.StopLoss != nil {
			ex.StopLoss = p.StopLoss
		}
		if p.TakeProfit != nil {
			ex.TakeProfit = p.TakeProfit
		}
		return positions, true
	}
	return append(positions, p), false
}

// MarkSettled settles the open position with key at t. Quantity goes to zero;
// the caller records the closed trade before calling this.
func (l *Ledger) MarkSettled(key domain.PositionKey, reason domain.ExitReason, t time.Time) bool {
	i := l.openIndex(key)
	if i < 0 {
		return false
	}
	settle(&l.positions[i], t)
	if reason != "" {
		l.positions[i].ExitReason = reason
	}
	return true
}

func settle(p *domain.Position, t time.Time) {
	p.Settled = true
	p.Quantity = 0
	p.ClosingInProgress = false
	p.ClosingSince = nil
	p.SettledTime = &t
}

// MarkClosing flags the open position with key as having an exit order in
// flight so neither the monitor nor reconciliation acts on it twice.
func (l *Ledger) MarkClosing(key domain.PositionKey, reason domain.ExitReason, orderID string, exitPrice float64, at time.Time) bool {
	i := l.openIndex(key)
	if i < 0 {
		return false
	}
	p := &l.positions[i]
	p.ClosingInProgress = true
	p.ClosingSince = &at
	p.ExitReason = reason
	p.ExitOrderID = orderID
	p.LastExitPrice = domain.Price(exitPrice)
	return true
}

// ReleaseClosing clears the closing flag of the open position with key so the
// monitor watches it again. filled contracts of the abandoned exit order
// leave the position, and LastExitPrice is kept only when some filled.
func (l *Ledger) ReleaseClosing(key domain.PositionKey, filled int) bool {
	i := l.openIndex(key)
	if i < 0 || !l.positions[i].ClosingInProgress {
		return false
	}
	p := &l.positions[i]
	p.ClosingInProgress = false
	p.ClosingSince = nil
	p.ExitOrderID = ""
	p.ExitReason = ""
	if filled > 0 {
		p.Quantity = max(0, p.Quantity-filled)
	} else {
		p.LastExitPrice = nil
	}
	return true
}

// SetLastPrice stores the latest mark of an open position.
func (l *Ledger) SetLastPrice(key domain.PositionKey, price float64) {
	if i := l.openIndex(key); i >= 0 {
		l.positions[i].LastPrice = domain.Price(price)
	}
}

// Replace commits a bulk update computed elsewhere, as reconciliation does.
func (l *Ledger) Replace(positions []domain.Position) {
	l.positions = append([]domain.Position(nil), positions...)
}

// Positions returns a copy of every position, settled ones included.
func (l *Ledger) Positions() []domain.Position {
	return append([]domain.Position(nil), l.positions...)
}

// Open returns a copy of the non-settled positions.
func (l *Ledger) Open() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if !p.Settled {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the open position with key.
func (l *Ledger) Get(key domain.PositionKey) (domain.Position, bool) {
	if i := l.openIndex(key); i >= 0 {
		return l.positions[i], true
	}
	return domain.Position{}, false
}

// Len returns the number of positions, settled ones included.
func (l *Ledger) Len() int {
	return len(l.positions)
}

func (l *Ledger) openIndex(key domain.PositionKey) int {
	key = domain.KeyOf(key.MarketID, key.Side)
	for i, p := range l.positions {
		if !p.Settled && p.Key() == key {
			return i
		}
	}
	return -1
}
