package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

var testLimits = Limits{CapPct: 0.10, HedgeCapPct: 0.05}

func pos(market, event string, side domain.Side, qty int, entry float64) domain.Position {
	return domain.Position{MarketID: market, EventID: event, Side: side, Quantity: qty, EntryPrice: entry, EffectiveEntry: entry}
}

func TestMaxQtyForBudget_Boundary(t *testing.T) {
	q := MaxQtyForBudget(100, 0.20)
	assert.Equal(t, 473, q)
	assert.LessOrEqual(t, domain.TotalCost(q, 0.20, false), 100.0)
	assert.Greater(t, domain.TotalCost(q+1, 0.20, false), 100.0)
}

func TestMaxQtyForBudget_Degenerate(t *testing.T) {
	assert.Equal(t, 0, MaxQtyForBudget(0, 0.5))
	assert.Equal(t, 0, MaxQtyForBudget(-3, 0.5))
	assert.Equal(t, 0, MaxQtyForBudget(100, 0))
	assert.Equal(t, 0, MaxQtyForBudget(0.30, 0.50))
}

func TestMaxAllowedQuantity_ScaledDownByEventCap(t *testing.T) {
	prop := Proposal{EventID: "KXNBA-1", MarketID: "KXNBA-1-LAL", Side: domain.SideYes, DesiredQty: 1000, Price: 0.20}

	d := MaxAllowedQuantity(nil, prop, 1000, testLimits)
	assert.True(t, d.Violation)
	assert.True(t, d.Scaled)
	assert.Equal(t, 473, d.AllowedQty)
	assert.Contains(t, d.Reason, "scaled down from 1000 to 473")
}

func TestMaxAllowedQuantity_NoViolation(t *testing.T) {
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 10, Price: 0.50}
	d := MaxAllowedQuantity(nil, prop, 10000, testLimits)
	assert.False(t, d.Violation)
	assert.Equal(t, 10, d.AllowedQty)
}

func TestMaxAllowedQuantity_NonPositive(t *testing.T) {
	d := MaxAllowedQuantity(nil, Proposal{DesiredQty: 0, Price: 0.5}, 1000, testLimits)
	assert.True(t, d.Violation)
	assert.Equal(t, ReasonNonPositive, d.Reason)

	d = MaxAllowedQuantity(nil, Proposal{DesiredQty: 5, Price: 0}, 1000, testLimits)
	assert.Equal(t, ReasonNonPositive, d.Reason)
}

func TestMaxAllowedQuantity_HardBlockWhenCapUsed(t *testing.T) {
	positions := []domain.Position{pos("E-M", "E", domain.SideYes, 250, 0.40)} // $100 used
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 10, Price: 0.40}

	d := MaxAllowedQuantity(positions, prop, 1000, testLimits)
	assert.True(t, d.Violation)
	assert.False(t, d.Scaled)
	assert.Equal(t, 0, d.AllowedQty)
	assert.Contains(t, d.Reason, "already at/over limit")
}

func TestMaxAllowedQuantity_EventKeyAggregatesSets(t *testing.T) {
	// Exposure on SET1 counts against the parent event.
	positions := []domain.Position{pos("KXATP-X-SET1-A", "KXATP-X-SET1", domain.SideYes, 200, 0.40)} // $80
	prop := Proposal{EventID: "KXATP-X", MarketID: "KXATP-X-A", Side: domain.SideYes, DesiredQty: 100, Price: 0.50}

	d := MaxAllowedQuantity(positions, prop, 1000, testLimits)
	require.True(t, d.Scaled)
	assert.Equal(t, CapEvent, d.Binding)
	assert.LessOrEqual(t, domain.TotalCost(d.AllowedQty, 0.50, false), 20.0)
	assert.Greater(t, domain.TotalCost(d.AllowedQty+1, 0.50, false), 20.0)
}

func TestMaxAllowedQuantity_SettledIgnored(t *testing.T) {
	p := pos("E-M", "E", domain.SideYes, 250, 0.40)
	p.Settled = true
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 10, Price: 0.40}

	d := MaxAllowedQuantity([]domain.Position{p}, prop, 1000, testLimits)
	assert.False(t, d.Violation)
}

func TestMaxAllowedQuantity_HedgeUsesOwnPct(t *testing.T) {
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideNo, DesiredQty: 1000, Price: 0.50, IsHedge: true}
	d := MaxAllowedQuantity(nil, prop, 1000, testLimits)
	require.True(t, d.Scaled)
	assert.LessOrEqual(t, domain.TotalCost(d.AllowedQty, 0.50, false), 50.0)
	assert.Greater(t, domain.TotalCost(d.AllowedQty+1, 0.50, false), 50.0)
}

func TestMaxAllowedQuantity_AbsoluteEventCap(t *testing.T) {
	limits := testLimits
	limits.MaxEventDollars = 30
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 1000, Price: 0.50}

	d := MaxAllowedQuantity(nil, prop, 10000, limits)
	require.True(t, d.Scaled)
	assert.Equal(t, CapEventAbs, d.Binding)
	assert.Equal(t, 57, d.AllowedQty)
}

func TestMaxAllowedQuantity_PortfolioCap(t *testing.T) {
	limits := testLimits
	limits.MaxPortfolioPct = 0.15
	positions := []domain.Position{pos("OTHER-M", "OTHER", domain.SideYes, 250, 0.40)} // $100 elsewhere
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 1000, Price: 0.50}

	d := MaxAllowedQuantity(positions, prop, 1000, limits)
	require.True(t, d.Scaled)
	assert.Equal(t, CapPortfolio, d.Binding)
	assert.LessOrEqual(t, domain.TotalCost(d.AllowedQty, 0.50, false), 50.0)
}

func TestMaxAllowedQuantity_EveryCapRespected(t *testing.T) {
	limits := Limits{CapPct: 0.07, HedgeCapPct: 0.03, MaxEventDollars: 400, MaxPortfolioPct: 0.5}
	positions := []domain.Position{
		pos("E-M", "E", domain.SideYes, 100, 0.35),
		pos("E-N", "E", domain.SideNo, 40, 0.62),
		pos("F-M", "F", domain.SideYes, 500, 0.10),
	}
	for _, capital := range []float64{500, 1000, 7500, 10000} {
		for _, price := range []float64{0.01, 0.13, 0.5, 0.87, 1} {
			for _, hedge := range []bool{false, true} {
				prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 3000, Price: price, IsHedge: hedge}
				d := MaxAllowedQuantity(positions, prop, capital, limits)
				assert.LessOrEqual(t, d.AllowedQty, prop.DesiredQty)

				pct := limits.CapPct
				if hedge {
					pct = limits.HedgeCapPct
				}
				exp := ExposureFor(positions, "E-M", domain.SideYes, "E")
				cost := domain.TotalCost(d.AllowedQty, price, false)
				if d.AllowedQty > 0 {
					assert.LessOrEqual(t, cost, capital*pct-exp.Side+1e-9)
					assert.LessOrEqual(t, cost, capital*pct-exp.Event+1e-9)
					assert.LessOrEqual(t, cost, limits.MaxEventDollars-exp.Event+1e-9)
					assert.LessOrEqual(t, cost, capital*limits.MaxPortfolioPct-exp.Portfolio+1e-9)
				}
			}
		}
	}
}

func TestMaxAllowedQuantity_Idempotent(t *testing.T) {
	positions := []domain.Position{pos("E-M", "E", domain.SideYes, 100, 0.35)}
	prop := Proposal{EventID: "E", MarketID: "E-M", Side: domain.SideYes, DesiredQty: 500, Price: 0.3}
	first := MaxAllowedQuantity(positions, prop, 1000, testLimits)
	second := MaxAllowedQuantity(positions, prop, 1000, testLimits)
	assert.Equal(t, first, second)
	assert.Equal(t, 100, positions[0].Quantity)
}

func TestSnapshot(t *testing.T) {
	settled := pos("G-M", "G", domain.SideYes, 10, 0.5)
	settled.Settled = true
	s := Snapshot([]domain.Position{
		pos("E-SET1-M", "E-SET1", domain.SideYes, 100, 0.30),
		pos("E-SET2-M", "E-SET2", domain.SideNo, 50, 0.40),
		settled,
	})
	assert.InDelta(t, 50.0, s.Total, 1e-9)
	assert.InDelta(t, 50.0, s.ByEvent["e"], 1e-9)
	assert.InDelta(t, 30.0, s.ByMarket[domain.KeyOf("E-SET1-M", domain.SideYes)], 1e-9)
	assert.Len(t, s.ByMarket, 2)
}
