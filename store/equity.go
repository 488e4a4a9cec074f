package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EquityStore account equity storage (for plotting return curves)
type EquityStore struct {
	db *sql.DB
}

// EquitySnapshot equity snapshot of one bot
type EquitySnapshot struct {
	ID          int64     `json:"id"`
	Bot         string    `json:"bot"` // grid or trend
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Equity      float64   `json:"equity"`
	EntryEquity float64   `json:"entry_equity"`
	PeakEquity  float64   `json:"peak_equity"`
	DailyLoss   float64   `json:"daily_loss"`
	OpenOrders  int       `json:"open_orders"`
}

func (s *EquityStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			equity REAL NOT NULL DEFAULT 0,
			entry_equity REAL NOT NULL DEFAULT 0,
			peak_equity REAL NOT NULL DEFAULT 0,
			daily_loss REAL NOT NULL DEFAULT 0,
			open_orders INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_bot_time ON equity_snapshots(bot, timestamp DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
	}
	return nil
}

// Save saves equity snapshot
func (s *EquityStore) Save(snapshot *EquitySnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	} else {
		snapshot.Timestamp = snapshot.Timestamp.UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO equity_snapshots (
			bot, symbol, timestamp, equity, entry_equity, peak_equity, daily_loss, open_orders
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snapshot.Bot,
		snapshot.Symbol,
		snapshot.Timestamp.Format(time.RFC3339),
		snapshot.Equity,
		snapshot.EntryEquity,
		snapshot.PeakEquity,
		snapshot.DailyLoss,
		snapshot.OpenOrders,
	)
	if err != nil {
		return fmt.Errorf("failed to save equity snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		snapshot.ID = id
	}
	return nil
}

// GetLatest returns the latest N snapshots of a bot in chronological order
func (s *EquityStore) GetLatest(bot string, limit int) ([]*EquitySnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, bot, symbol, timestamp, equity, entry_equity, peak_equity, daily_loss, open_orders
		FROM equity_snapshots
		WHERE bot = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, bot, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}

	// Reverse so the oldest comes first
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// GetByTimeRange returns snapshots of a bot within [start, end]
func (s *EquityStore) GetByTimeRange(bot string, start, end time.Time) ([]*EquitySnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, bot, symbol, timestamp, equity, entry_equity, peak_equity, daily_loss, open_orders
		FROM equity_snapshots
		WHERE bot = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC
	`, bot, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]*EquitySnapshot, error) {
	var snapshots []*EquitySnapshot
	for rows.Next() {
		snap := &EquitySnapshot{}
		var timestamp string
		if err := rows.Scan(
			&snap.ID, &snap.Bot, &snap.Symbol, &timestamp, &snap.Equity,
			&snap.EntryEquity, &snap.PeakEquity, &snap.DailyLoss, &snap.OpenOrders,
		); err != nil {
			return nil, err
		}
		snap.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}
