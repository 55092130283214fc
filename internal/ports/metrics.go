package ports

import (
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Metrics records cycle outcomes and collaborator failures.
type Metrics interface {
	ObserveCycle(report domain.CycleReport, took time.Duration)
	SourceError(source string, kind ErrorKind)
	Signal(proposed, blocked int)
}
