package storage

// sqlite.go: append-only trade history.
//
// Tables:
//   closed_trades  - one row per settled position, keyed by trade id
//   daily_summary  - one row per UTC day, upserted every cycle
//
// Old rows are pruned on open so the file stays small on long runs.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
    id           TEXT PRIMARY KEY,
    match_id     TEXT NOT NULL DEFAULT '',
    event_id     TEXT NOT NULL DEFAULT '',
    market_id    TEXT NOT NULL,
    side         TEXT NOT NULL,      -- yes / no
    entry_price  REAL NOT NULL,
    exit_price   REAL NOT NULL,
    quantity     INTEGER NOT NULL,
    realized_pnl REAL NOT NULL,
    reason       TEXT NOT NULL,
    entry_time   TEXT NOT NULL,
    settled_time TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_settled ON closed_trades(settled_time DESC);
CREATE INDEX IF NOT EXISTS idx_trades_event   ON closed_trades(event_id);

CREATE TABLE IF NOT EXISTS daily_summary (
    date           TEXT PRIMARY KEY,
    open_positions INTEGER NOT NULL DEFAULT 0,
    exposure       REAL    NOT NULL DEFAULT 0,
    realized_pnl   REAL    NOT NULL DEFAULT 0,
    unrealized_pnl REAL    NOT NULL DEFAULT 0,
    equity         REAL    NOT NULL DEFAULT 0,
    wins           INTEGER NOT NULL DEFAULT 0,
    losses         INTEGER NOT NULL DEFAULT 0,
    settlements    INTEGER NOT NULL DEFAULT 0,
    exits_placed   INTEGER NOT NULL DEFAULT 0
);
`

const (
	retentionTrades = 365 * 24 * time.Hour

	// Fixed width so lexical order matches time order.
	tsLayout   = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

// SQLiteStorage implements ports.TradeLog on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path, applies the
// schema and prunes old trades.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveClosedTrade inserts a trade. Saving the same id twice is a no-op.
func (s *SQLiteStorage) SaveClosedTrade(ctx context.Context, t domain.ClosedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_trades
		  (id, match_id, event_id, market_id, side, entry_price, exit_price,
		   quantity, realized_pnl, reason, entry_time, settled_time)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.MatchID, t.EventID, t.MarketID, string(t.Side),
		t.EntryPrice, t.ExitPrice, t.Quantity, t.RealizedPnL, string(t.Reason),
		formatTS(t.EntryTime), formatTS(t.SettledTime),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveClosedTrade %s: %w", t.ID, err)
	}
	return nil
}

// GetClosedTrades returns trades settled in [from, to], newest first.
func (s *SQLiteStorage) GetClosedTrades(ctx context.Context, from, to time.Time) ([]domain.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, event_id, market_id, side, entry_price, exit_price,
		       quantity, realized_pnl, reason, entry_time, settled_time
		FROM closed_trades
		WHERE settled_time BETWEEN ? AND ?
		ORDER BY settled_time DESC`,
		formatTS(from), formatTS(to),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetClosedTrades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var side, reason, entry, settled string
		if err := rows.Scan(&t.ID, &t.MatchID, &t.EventID, &t.MarketID, &side,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.RealizedPnL, &reason,
			&entry, &settled); err != nil {
			return nil, fmt.Errorf("storage.GetClosedTrades: scan row: %w", err)
		}
		t.Side = domain.Side(side)
		t.Reason = domain.ExitReason(reason)
		t.EntryTime = parseTS(entry)
		t.SettledTime = parseTS(settled)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveDailySummary upserts the summary for d.Date (UTC day).
func (s *SQLiteStorage) SaveDailySummary(ctx context.Context, d domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summary
		  (date, open_positions, exposure, realized_pnl, unrealized_pnl, equity,
		   wins, losses, settlements, exits_placed)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
		  open_positions=excluded.open_positions,
		  exposure=excluded.exposure,
		  realized_pnl=excluded.realized_pnl,
		  unrealized_pnl=excluded.unrealized_pnl,
		  equity=excluded.equity,
		  wins=excluded.wins,
		  losses=excluded.losses,
		  settlements=excluded.settlements,
		  exits_placed=excluded.exits_placed`,
		d.Date.UTC().Format(dateLayout),
		d.OpenPositions, d.Exposure, d.RealizedPnL, d.UnrealizedPnL, d.Equity,
		d.Wins, d.Losses, d.Settlements, d.ExitsPlaced,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDailySummary: %w", err)
	}
	return nil
}

// GetDailySummaries returns all daily summaries ordered by date.
func (s *SQLiteStorage) GetDailySummaries(ctx context.Context) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open_positions, exposure, realized_pnl, unrealized_pnl, equity,
		       wins, losses, settlements, exits_placed
		FROM daily_summary ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailySummaries: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var d domain.DailySummary
		var date string
		if err := rows.Scan(&date, &d.OpenPositions, &d.Exposure, &d.RealizedPnL,
			&d.UnrealizedPnL, &d.Equity, &d.Wins, &d.Losses, &d.Settlements, &d.ExitsPlaced); err != nil {
			return nil, fmt.Errorf("storage.GetDailySummaries: scan row: %w", err)
		}
		d.Date, _ = time.Parse(dateLayout, date)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionTrades)
	s.db.ExecContext(ctx, `DELETE FROM closed_trades WHERE settled_time < ?`, formatTS(cutoff))
	s.db.ExecContext(ctx, `DELETE FROM daily_summary WHERE date < ?`, cutoff.Format(dateLayout))
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}
