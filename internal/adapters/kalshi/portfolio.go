package kalshi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// maxPositionPages bounds cursor pagination on /portfolio/positions.
const maxPositionPages = 20

// GetPositions implements ports.PositionSource. The list is complete or the
// call fails: a partial list would read as positions that left the venue.
func (c *Client) GetPositions(ctx context.Context) ([]domain.LivePosition, error) {
	var out []domain.LivePosition
	cursor := ""
	for page := 0; ; page++ {
		if page == maxPositionPages {
			return nil, fmt.Errorf("kalshi.GetPositions: %w",
				c.fail(ports.KindMalformed, 0, fmt.Errorf("more than %d pages of positions", maxPositionPages)))
		}
		q := url.Values{}
		q.Set("limit", "200")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp positionsResponse
		if err := c.get(ctx, "/portfolio/positions", q, &resp); err != nil {
			return nil, fmt.Errorf("kalshi.GetPositions: %w", err)
		}
		for _, p := range resp.MarketPositions {
			if lp, ok := toLivePosition(p); ok {
				out = append(out, lp)
			}
		}
		if resp.Cursor == "" {
			return out, nil
		}
		if resp.Cursor == cursor {
			return nil, fmt.Errorf("kalshi.GetPositions: %w",
				c.fail(ports.KindMalformed, 0, errors.New("pagination cursor did not advance")))
		}
		cursor = resp.Cursor
	}
}

// GetBalance implements ports.BalanceSource.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/portfolio/balance", nil, &resp); err != nil {
		return 0, fmt.Errorf("kalshi.GetBalance: %w", err)
	}
	return centsToDollars(resp.Balance), nil
}

// CachedBalance wraps a BalanceSource and reuses the last value for ttl.
type CachedBalance struct {
	src ports.BalanceSource
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	value float64
	at    time.Time
	ok    bool
}

// NewCachedBalance creates a CachedBalance.
func NewCachedBalance(src ports.BalanceSource, ttl time.Duration) *CachedBalance {
	return &CachedBalance{src: src, ttl: ttl, now: time.Now}
}

// GetBalance implements ports.BalanceSource.
func (b *CachedBalance) GetBalance(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.ok && now.Sub(b.at) < b.ttl {
		return b.value, nil
	}
	v, err := b.src.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	b.value, b.at, b.ok = v, now, true
	return v, nil
}
