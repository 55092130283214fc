// Package sim is an in-memory venue used when the session runs in sim mode.
// Orders fill immediately at their limit price.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Venue implements ports.PositionSource, ports.BalanceSource,
// ports.OrderExecutor and ports.EntryExecutor.
type Venue struct {
	quotes     ports.QuoteSource // optional; used to drop finished markets
	makerEntry bool

	mu       sync.Mutex
	cash     float64
	holdings map[domain.PositionKey]domain.LivePosition
}

// Option configures a Venue.
type Option func(*Venue)

// WithMakerEntries charges entries at the maker fee instead of the taker fee.
func WithMakerEntries(maker bool) Option { return func(v *Venue) { v.makerEntry = maker } }

// NewVenue creates a simulated venue with the given starting cash.
func NewVenue(cash float64, quotes ports.QuoteSource, opts ...Option) *Venue {
	v := &Venue{
		quotes:   quotes,
		cash:     cash,
		holdings: make(map[domain.PositionKey]domain.LivePosition),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Seed registers positions already held, typically the open ledger loaded
// at startup. Seeding does not move cash.
func (v *Venue) Seed(positions []domain.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range positions {
		if !p.IsOpen() || p.Quantity <= 0 {
			continue
		}
		v.holdings[p.Key()] = domain.LivePosition{
			MarketID: p.MarketID,
			EventID:  p.EventID,
			Side:     p.Side,
			Quantity: p.Quantity,
			AvgPrice: p.Entry(),
		}
	}
}

// GetPositions implements ports.PositionSource. Holdings in markets the
// quote source reports as finished are removed first.
func (v *Venue) GetPositions(ctx context.Context) ([]domain.LivePosition, error) {
	v.dropFinished(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.LivePosition, 0, len(v.holdings))
	for _, h := range v.holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

func (v *Venue) dropFinished(ctx context.Context) {
	if v.quotes == nil {
		return
	}
	v.mu.Lock()
	keys := make([]domain.PositionKey, 0, len(v.holdings))
	for k := range v.holdings {
		keys = append(keys, k)
	}
	v.mu.Unlock()

	for _, k := range keys {
		q, err := v.quotes.GetMarket(ctx, k.MarketID)
		if err != nil || !q.IsTerminal() {
			continue
		}
		v.mu.Lock()
		if h, ok := v.holdings[k]; ok {
			if outcome, ok := q.Outcome(); ok && outcome == k.Side {
				v.cash += float64(h.Quantity)
			}
			delete(v.holdings, k)
		}
		v.mu.Unlock()
		slog.Info("sim: market finished, holding removed", "market", k.MarketID, "side", k.Side, "status", q.Status)
	}
}

// GetBalance implements ports.BalanceSource.
func (v *Venue) GetBalance(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cash, nil
}

// PlaceExit implements ports.OrderExecutor. The whole holding is sold at
// the order price less the maker fee.
func (v *Venue) PlaceExit(_ context.Context, order ports.ExitOrder) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	k := domain.KeyOf(order.MarketID, order.Side)
	h, ok := v.holdings[k]
	if !ok || h.Quantity <= 0 {
		return "", fmt.Errorf("sim.PlaceExit: no holding for %s %s", k.MarketID, k.Side)
	}
	qty := order.Quantity
	if qty > h.Quantity {
		qty = h.Quantity
	}
	v.cash += float64(qty)*order.Price - domain.Fee(qty, order.Price, true)
	h.Quantity -= qty
	if h.Quantity == 0 {
		delete(v.holdings, k)
	} else {
		v.holdings[k] = h
	}
	return "sim-" + uuid.NewString(), nil
}

// PlaceEntry implements ports.EntryExecutor. The order fills in full when
// cash covers it.
func (v *Venue) PlaceEntry(_ context.Context, order ports.EntryOrder) (ports.Fill, error) {
	if order.Quantity <= 0 || order.Price <= 0 || order.Price >= 1 {
		return ports.Fill{}, fmt.Errorf("sim.PlaceEntry: invalid order qty=%d price=%v", order.Quantity, order.Price)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	cost := domain.TotalCost(order.Quantity, order.Price, v.makerEntry)
	if cost > v.cash {
		return ports.Fill{}, fmt.Errorf("sim.PlaceEntry: insufficient cash $%.2f for $%.2f", v.cash, cost)
	}
	v.cash -= cost

	k := domain.KeyOf(order.MarketID, order.Side)
	h := v.holdings[k]
	total := h.Quantity + order.Quantity
	h.AvgPrice = (h.AvgPrice*float64(h.Quantity) + order.Price*float64(order.Quantity)) / float64(total)
	h.Quantity = total
	h.MarketID = k.MarketID
	h.Side = k.Side
	if h.EventID == "" {
		h.EventID = domain.EventFromMarket(k.MarketID)
	}
	v.holdings[k] = h

	return ports.Fill{OrderID: "sim-" + uuid.NewString(), Quantity: order.Quantity, Price: order.Price}, nil
}
