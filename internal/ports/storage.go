package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// PositionStore persists the whole position ledger as one document.
type PositionStore interface {
	// LoadPositions returns the decodable records and how many were skipped
	// because they could not be decoded.
	LoadPositions(ctx context.Context) (positions []domain.Position, skipped int, err error)
	SavePositions(ctx context.Context, positions []domain.Position) error
}

// StopOrderStore persists exit order metadata keyed by market id.
type StopOrderStore interface {
	LoadStopOrders(ctx context.Context) (map[string]domain.StopOrder, error)
	SaveStopOrders(ctx context.Context, orders map[string]domain.StopOrder) error
}

// TradeLog is the append-only history of closed trades and daily summaries.
type TradeLog interface {
	SaveClosedTrade(ctx context.Context, trade domain.ClosedTrade) error
	GetClosedTrades(ctx context.Context, from, to time.Time) ([]domain.ClosedTrade, error)
	SaveDailySummary(ctx context.Context, s domain.DailySummary) error
	GetDailySummaries(ctx context.Context) ([]domain.DailySummary, error)

	// Close closes the database connection cleanly.
	Close() error
}

// CooldownStore persists stop-loss cooldowns keyed by event key.
type CooldownStore interface {
	LoadCooldowns(ctx context.Context) (map[string]domain.Cooldown, error)
	SaveCooldowns(ctx context.Context, cooldowns map[string]domain.Cooldown) error
}
