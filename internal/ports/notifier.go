package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Notifier presents the outcome of a portfolio cycle to the operator.
type Notifier interface {
	NotifyCycle(ctx context.Context, report domain.CycleReport) error
}
