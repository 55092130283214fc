package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// OddsSource returns external events with the odds of every quoting book.
type OddsSource interface {
	GetOdds(ctx context.Context) ([]domain.OddsEvent, error)
}
