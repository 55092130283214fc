package portfolio

import (
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/kalshibot/internal/application/ledger"
	"github.com/alejandrodnm/kalshibot/internal/application/matchcache"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Mode selects whether the session trades against the real venue.
type Mode string

const (
	ModeSim  Mode = "sim"
	ModeLive Mode = "live"
)

// Session is the mutable trading state of one process run. Only the cycle
// goroutine touches it; the match cache is the one piece shared with readers.
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time

	Ledger     *ledger.Ledger
	Cache      *matchcache.Cache
	Cooldowns  *risk.Cooldowns
	StopOrders map[string]domain.StopOrder

	Realized    float64
	Wins        int
	Losses      int
	Closed      []domain.ClosedTrade
	ExitsPlaced int
	LastBalance float64
}

// NewSession starts a session around an already loaded ledger.
func NewSession(mode Mode, l *ledger.Ledger, cache *matchcache.Cache, cooldowns *risk.Cooldowns) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Mode:       mode,
		StartedAt:  time.Now(),
		Ledger:     l,
		Cache:      cache,
		Cooldowns:  cooldowns,
		StopOrders: make(map[string]domain.StopOrder),
	}
}

// Record books closed trades into the realized PnL and win/loss counters.
// Resolutions count by outcome; other exits by the sign of their PnL.
func (s *Session) Record(trades ...domain.ClosedTrade) {
	for _, t := range trades {
		s.Realized += t.RealizedPnL
		switch {
		case t.Reason == domain.ExitResolved && t.ExitPrice >= 1:
			s.Wins++
		case t.Reason == domain.ExitResolved:
			s.Losses++
		case t.RealizedPnL > 0:
			s.Wins++
		case t.RealizedPnL < 0:
			s.Losses++
		}
		s.Closed = append(s.Closed, t)
	}
}

// End releases session-scoped resources.
func (s *Session) End() {
	s.Cache.Clear()
}
