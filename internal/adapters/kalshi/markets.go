package kalshi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// GetMarkets implements ports.QuoteSource. Only active markets with at least
// one quoted side are returned.
func (c *Client) GetMarkets(ctx context.Context, eventID string) ([]domain.MarketQuote, error) {
	q := url.Values{}
	q.Set("event_ticker", domain.NormalizeTicker(eventID))

	var resp marketsResponse
	if err := c.get(ctx, "/markets", q, &resp); err != nil {
		return nil, fmt.Errorf("kalshi.GetMarkets %s: %w", eventID, err)
	}

	out := make([]domain.MarketQuote, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		quote := toQuote(m)
		if !quote.IsActive() || !quote.HasQuote() {
			continue
		}
		out = append(out, quote)
	}
	return out, nil
}

// GetMarket implements ports.QuoteSource. The market is returned whatever
// its status so settled results are visible.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.MarketQuote, error) {
	var resp marketResponse
	path := "/markets/" + url.PathEscape(domain.NormalizeTicker(ticker))
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("kalshi.GetMarket %s: %w", ticker, err)
	}
	return toQuote(resp.Market), nil
}
