package oddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	source = "oddsapi"

	defaultBaseURL = "https://api.the-odds-api.com/v4"
	defaultRegions = "us"

	maxRetries    = 2
	baseRetryWait = time.Second
)

// Client fetches head-to-head odds from The Odds API.
type Client struct {
	http      *http.Client
	base      string
	apiKey    string
	sport     string
	regions   string
	limiter   *rate.Limiter
	retryWait time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRegions sets the bookmaker regions, e.g. "us,eu".
func WithRegions(r string) Option { return func(c *Client) { c.regions = r } }

// WithRetryWait sets the base backoff between retries.
func WithRetryWait(d time.Duration) Option { return func(c *Client) { c.retryWait = d } }

// NewClient creates a Client for one sport key.
func NewClient(baseURL, apiKey, sport string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		http:      &http.Client{Timeout: 15 * time.Second},
		base:      baseURL,
		apiKey:    apiKey,
		sport:     sport,
		regions:   defaultRegions,
		limiter:   rate.NewLimiter(1, 2),
		retryWait: baseRetryWait,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type apiMarket struct {
	Key      string       `json:"key"`
	Outcomes []apiOutcome `json:"outcomes"`
}

type apiBookmaker struct {
	Key     string      `json:"key"`
	Title   string      `json:"title"`
	Markets []apiMarket `json:"markets"`
}

type apiEvent struct {
	ID           string         `json:"id"`
	CommenceTime time.Time      `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []apiBookmaker `json:"bookmakers"`
}

// GetOdds implements ports.OddsSource. Only the h2h market is read and books
// without it are left out.
func (c *Client) GetOdds(ctx context.Context) ([]domain.OddsEvent, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("regions", c.regions)
	q.Set("markets", "h2h")
	q.Set("oddsFormat", "decimal")
	u := fmt.Sprintf("%s/sports/%s/odds?%s", c.base, url.PathEscape(c.sport), q.Encode())

	var events []apiEvent
	if err := c.doWithRetry(ctx, u, &events); err != nil {
		return nil, fmt.Errorf("oddsapi.GetOdds %s: %w", c.sport, err)
	}

	out := make([]domain.OddsEvent, 0, len(events))
	for _, e := range events {
		out = append(out, toEvent(e))
	}
	return out, nil
}

func toEvent(e apiEvent) domain.OddsEvent {
	ev := domain.OddsEvent{
		ExternalID: e.ID,
		HomeTeam:   e.HomeTeam,
		AwayTeam:   e.AwayTeam,
		Commence:   e.CommenceTime,
	}
	for _, b := range e.Bookmakers {
		for _, m := range b.Markets {
			if m.Key != "h2h" {
				continue
			}
			book := domain.BookOdds{Book: b.Title}
			if book.Book == "" {
				book.Book = b.Key
			}
			for _, o := range m.Outcomes {
				book.Outcomes = append(book.Outcomes, domain.OutcomeOdds{Name: o.Name, Decimal: o.Price})
			}
			ev.Books = append(ev.Books, book)
		}
	}
	return ev
}

func (c *Client) doWithRetry(ctx context.Context, u string, out any) error {
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &ports.SourceError{Source: source, Kind: ports.KindTimeout, Err: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return &ports.SourceError{Source: source, Kind: ports.KindUnknown, Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			kind := ports.KindUnavailable
			if ctx.Err() != nil || isTimeout(err) {
				kind = ports.KindTimeout
			}
			last = &ports.SourceError{Source: source, Kind: kind, Err: err}
			if ctx.Err() != nil {
				return last
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			kind := ports.KindHTTPStatus
			if resp.StatusCode == http.StatusTooManyRequests {
				kind = ports.KindRateLimited
			}
			last = &ports.SourceError{Source: source, Kind: kind, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
			slog.Warn("oddsapi: retrying", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return &ports.SourceError{Source: source, Kind: ports.KindHTTPStatus, Status: resp.StatusCode, Err: fmt.Errorf("client error: %s", string(body))}
		}

		if rem := resp.Header.Get("x-requests-remaining"); rem != "" {
			slog.Debug("oddsapi: quota", "remaining", rem, "used", resp.Header.Get("x-requests-used"))
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return &ports.SourceError{Source: source, Kind: ports.KindMalformed, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}
	return last
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
