// Package risk sizes orders against exposure caps and tracks stop-loss
// cooldowns.
package risk

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Limits are the configured exposure caps. Percentages are fractions of
// capital; a zero MaxEventDollars or MaxPortfolioPct disables that cap.
type Limits struct {
	CapPct          float64
	HedgeCapPct     float64
	MaxEventDollars float64
	MaxPortfolioPct float64
}

// Proposal is a trade about to be placed.
type Proposal struct {
	EventID    string
	MarketID   string
	Side       domain.Side
	DesiredQty int
	Price      float64
	IsHedge    bool
}

// Cap names, reported in Decision.Binding.
const (
	CapSide      = "side"
	CapEvent     = "event"
	CapEventAbs  = "event_abs"
	CapPortfolio = "portfolio"

	ReasonNonPositive = "non_positive_size"
)

// Decision is the result of an exposure check. Violation with AllowedQty 0
// is a hard block; Violation with Scaled is a non-fatal reduction.
type Decision struct {
	Violation  bool
	Scaled     bool
	Reason     string
	Binding    string
	AllowedQty int
}

// Exposure is the committed dollar exposure around a proposal.
type Exposure struct {
	Side      float64
	Event     float64
	Portfolio float64
}

// ExposureFor sums quantity × entry price over non-settled positions that
// share the proposal's (market, side) and normalized event key.
func ExposureFor(positions []domain.Position, marketID string, side domain.Side, eventID string) Exposure {
	key := domain.KeyOf(marketID, side)
	evt := domain.EventKey(eventID)
	var e Exposure
	for _, p := range positions {
		if p.Settled {
			continue
		}
		x := p.Exposure()
		e.Portfolio += x
		if p.Key() == key {
			e.Side += x
		}
		if evt != "" && domain.EventKey(p.EventID) == evt {
			e.Event += x
		}
	}
	return e
}

// MaxQtyForBudget is the largest integer quantity whose taker-fee total cost
// fits in budget. Total cost is non-decreasing in quantity, so a binary
// search over [0, ⌊budget/price⌋] is exact.
func MaxQtyForBudget(budget, price float64) int {
	if budget <= 0 || price <= 0 {
		return 0
	}
	hi := int(math.Floor(budget / price))
	lo, ans := 0, 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if domain.TotalCost(mid, price, false) <= budget {
			ans = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return ans
}

// MaxAllowedQuantity returns the largest quantity of the proposal that keeps
// every cap satisfied. It reads positions and never mutates them.
func MaxAllowedQuantity(positions []domain.Position, prop Proposal, capital float64, limits Limits) Decision {
	if prop.DesiredQty <= 0 || prop.Price <= 0 {
		return Decision{Violation: true, Reason: ReasonNonPositive}
	}

	exp := ExposureFor(positions, prop.MarketID, prop.Side, prop.EventID)
	pct := limits.CapPct
	if prop.IsHedge {
		pct = limits.HedgeCapPct
	}
	limit := capital * pct

	type capQty struct {
		name  string
		limit float64
		used  float64
	}
	caps := []capQty{
		{CapSide, limit, exp.Side},
		{CapEvent, limit, exp.Event},
	}
	if limits.MaxEventDollars > 0 {
		caps = append(caps, capQty{CapEventAbs, limits.MaxEventDollars, exp.Event})
	}
	if limits.MaxPortfolioPct > 0 {
		caps = append(caps, capQty{CapPortfolio, capital * limits.MaxPortfolioPct, exp.Portfolio})
	}

	allowed := prop.DesiredQty
	binding := caps[0]
	for _, c := range caps {
		q := MaxQtyForBudget(math.Max(0, c.limit-c.used), prop.Price)
		if q < allowed {
			allowed = q
			binding = c
		}
	}

	switch {
	case allowed <= 0:
		return Decision{
			Violation: true,
			Binding:   binding.name,
			Reason: fmt.Sprintf("%s exposure $%.2f already at/over limit $%.2f",
				binding.name, binding.used, binding.limit),
		}
	case allowed < prop.DesiredQty:
		return Decision{
			Violation:  true,
			Scaled:     true,
			Binding:    binding.name,
			AllowedQty: allowed,
			Reason: fmt.Sprintf("scaled down from %d to %d to respect %s limit $%.2f (would use $%.2f)",
				prop.DesiredQty, allowed, binding.name, binding.limit,
				binding.used+float64(allowed)*prop.Price),
		}
	}
	return Decision{AllowedQty: prop.DesiredQty}
}

// ExposureSnapshot is the derived exposure of a ledger at one instant.
type ExposureSnapshot struct {
	ByEvent  map[string]float64
	ByMarket map[domain.PositionKey]float64
	Total    float64
}

// Snapshot aggregates exposure of non-settled positions by event key and by
// (market, side).
func Snapshot(positions []domain.Position) ExposureSnapshot {
	s := ExposureSnapshot{
		ByEvent:  make(map[string]float64),
		ByMarket: make(map[domain.PositionKey]float64),
	}
	for _, p := range positions {
		if p.Settled {
			continue
		}
		x := p.Exposure()
		s.ByEvent[domain.EventKey(p.EventID)] += x
		s.ByMarket[p.Key()] += x
		s.Total += x
	}
	return s
}
