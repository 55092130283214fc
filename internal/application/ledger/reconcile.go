package ledger

import (
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// PartialExit is a closing position whose exit order filled in part.
type PartialExit struct {
	Position  domain.Position // state before the fill was applied
	FilledQty int
}

// Resize is a monitored position whose venue quantity changed without an exit
// order of ours, after an external fill or sale.
type Resize struct {
	Position domain.Position // state before the venue values were adopted
	Quantity int             // quantity the venue holds
}

// Sold is how many contracts left the book, zero when the holding grew.
func (r Resize) Sold() int {
	if d := r.Position.Quantity - r.Quantity; d > 0 {
		return d
	}
	return 0
}

// ReconcileReport lists what a reconciliation changed. Position snapshots are
// taken before the change, so callers can price what left the book.
type ReconcileReport struct {
	Seen     int
	Added    []domain.Position
	Vanished []domain.Position
	Exited   []domain.Position
	Partial  []PartialExit
	Resized  []Resize
}

// Changed reports whether the merge altered anything beyond live stamps.
func (r ReconcileReport) Changed() bool {
	return len(r.Added) > 0 || len(r.Vanished) > 0 || len(r.Exited) > 0 ||
		len(r.Partial) > 0 || len(r.Resized) > 0
}

// Reconcile merges venue-reported holdings into the ledger positions and
// returns the new list. It does not mutate its inputs.
//
//   - positions held by the venue are stamped LastSeenLive;
//   - open positions held in a different quantity adopt the venue quantity,
//     and its average price when the venue reports one;
//   - venue holdings with no open position are appended, priced at the
//     venue's average price;
//   - open positions the venue no longer holds are settled with quantity 0;
//   - closing positions that vanished are settled as exited, and closing
//     positions the venue holds fewer of record a partial exit and are
//     monitored again.
//
// A key whose last record settled by resolution is never re-added: the
// market is over and the venue may list the holding until payout.
func Reconcile(positions []domain.Position, live []domain.LivePosition, now time.Time) ([]domain.Position, ReconcileReport) {
	liveByKey := make(map[domain.PositionKey]domain.LivePosition, len(live))
	order := make([]domain.PositionKey, 0, len(live))
	for _, lp := range live {
		if lp.Quantity <= 0 {
			continue
		}
		side, ok := domain.ParseSide(string(lp.Side))
		if !ok {
			continue
		}
		lp.Side = side
		k := lp.Key()
		if ex, ok := liveByKey[k]; ok {
			ex.Quantity += lp.Quantity
			liveByKey[k] = ex
			continue
		}
		liveByKey[k] = lp
		order = append(order, k)
	}

	merged := make([]domain.Position, 0, len(positions)+len(live))
	tracked := make(map[domain.PositionKey]bool, len(positions))
	var rep ReconcileReport

	for _, p := range positions {
		k := p.Key()
		lp, held := liveByKey[k]
		if held {
			stamp := now
			p.LastSeenLive = &stamp
			rep.Seen++
		}
		if p.Settled {
			if p.ExitReason == domain.ExitResolved {
				tracked[k] = true
			}
			merged = append(merged, p)
			continue
		}
		tracked[k] = true

		switch {
		case p.ClosingInProgress && !held:
			rep.Exited = append(rep.Exited, p)
			settle(&p, now)
		case p.ClosingInProgress && lp.Quantity < p.Quantity:
			rep.Partial = append(rep.Partial, PartialExit{Position: p, FilledQty: p.Quantity - lp.Quantity})
			p.Quantity = lp.Quantity
			p.ClosingInProgress = false
			p.ClosingSince = nil
			p.ExitOrderID = ""
			p.ExitReason = ""
		case !p.ClosingInProgress && !held:
			rep.Vanished = append(rep.Vanished, p)
			settle(&p, now)
			p.ExitReason = domain.ExitVanished
		case !p.ClosingInProgress && lp.Quantity != p.Quantity:
			rep.Resized = append(rep.Resized, Resize{Position: p, Quantity: lp.Quantity})
			p.Quantity = lp.Quantity
			if lp.AvgPrice > 0 {
				p.EntryPrice = lp.AvgPrice
				p.EffectiveEntry = lp.AvgPrice
			}
		}
		merged = append(merged, p)
	}

	for _, k := range order {
		if tracked[k] {
			continue
		}
		lp := liveByKey[k]
		stamp := now
		p := Normalize(domain.Position{
			MatchID:        lp.MarketID,
			EventID:        lp.EventID,
			MarketID:       lp.MarketID,
			Side:           lp.Side,
			EntryPrice:     lp.AvgPrice,
			EffectiveEntry: lp.AvgPrice,
			Quantity:       lp.Quantity,
			EntryTime:      now,
			LastSeenLive:   &stamp,
		}, now)
		rep.Added = append(rep.Added, p)
		merged = append(merged, p)
	}
	return merged, rep
}
