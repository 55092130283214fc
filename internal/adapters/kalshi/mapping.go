package kalshi

import (
	"math"
	"strconv"
	"strings"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// toQuote maps an API market to the domain quote. A zero cent price means
// nothing is resting on that side.
func toQuote(m apiMarket) domain.MarketQuote {
	title := m.YesSubTitle
	if title == "" {
		title = m.Title
	}
	return domain.MarketQuote{
		Ticker:  domain.NormalizeTicker(m.Ticker),
		EventID: domain.NormalizeTicker(m.EventTicker),
		Title:   title,
		Status:  strings.ToLower(m.Status),
		Result:  strings.ToLower(m.Result),
		YesBid:  centsPtr(m.YesBid),
		YesAsk:  centsPtr(m.YesAsk),
		Volume:  m.Volume,
	}
}

func centsPtr(c *int) *float64 {
	if c == nil || *c <= 0 {
		return nil
	}
	return domain.Price(centsToDollars(int64(*c)))
}

func centsToDollars(c int64) float64 {
	return float64(c) / 100
}

// toCents converts a probability price to whole cents, clamped to the
// tradable 1..99 range.
func toCents(p float64) int {
	c := int(math.Round(p * 100))
	if c < 1 {
		return 1
	}
	if c > 99 {
		return 99
	}
	return c
}

// toLivePosition maps a signed market position. The average price comes from
// market exposure and falls back to traded notional. A holding with neither
// is still reported, with AvgPrice 0.
func toLivePosition(p apiPosition) (domain.LivePosition, bool) {
	if p.Ticker == "" || p.Position == 0 {
		return domain.LivePosition{}, false
	}
	side := domain.SideYes
	if p.Position < 0 {
		side = domain.SideNo
	}
	qty := p.Position
	if qty < 0 {
		qty = -qty
	}

	avg := 0.0
	if d := dollars(p.MarketExposureDollars, p.MarketExposure); d > 0 {
		avg = d / float64(qty)
	}
	if avg <= 0 && p.TotalTraded > 0 {
		if d := parseDollars(p.TotalTradedDollars); d > 0 {
			avg = d / float64(p.TotalTraded)
		}
	}
	if avg > 1 {
		avg /= 100
	}

	event := domain.NormalizeTicker(p.EventTicker)
	if event == "" {
		event = domain.EventFromMarket(p.Ticker)
	}
	return domain.LivePosition{
		MarketID: domain.NormalizeTicker(p.Ticker),
		EventID:  event,
		Side:     side,
		Quantity: qty,
		AvgPrice: avg,
	}, true
}

// dollars prefers the explicit dollar string and falls back to cents.
func dollars(s string, cents int64) float64 {
	if d := parseDollars(s); d > 0 {
		return d
	}
	return centsToDollars(cents)
}

func parseDollars(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
