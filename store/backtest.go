package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BacktestStore persists grid backtest runs. Rotation reads their per-symbol
// aggregates back as historical performance.
type BacktestStore struct {
	db *sql.DB
}

// BacktestRun is one simulated (symbol, multiplier, grid count) combination
type BacktestRun struct {
	ID             int64     `json:"id"`
	Strategy       string    `json:"strategy"`
	RunAt          time.Time `json:"run_at"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	DaysBack       int       `json:"days_back"`
	ATRMultiplier  float64   `json:"atr_multiplier"`
	GridCount      int       `json:"grid_count"`
	Leverage       int       `json:"leverage"`
	Investment     float64   `json:"investment"`
	FinalEquity    float64   `json:"final_equity"`
	TotalPnL       float64   `json:"total_pnl"`
	TotalPnLPct    float64   `json:"total_pnl_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	FilledLevels   int       `json:"filled_levels"`
	BreakoutResets int       `json:"breakout_resets"`
	SidewaysScore  float64   `json:"sideways_score"`
	Score          float64   `json:"score"`
}

// GridStrategyName is the strategy label of a grid run
func GridStrategyName(multiplier float64, gridCount int, timeframe string) string {
	return fmt.Sprintf("GRID_ATR%g_N%d_%s", multiplier, gridCount, timeframe)
}

// SymbolAggregate summarizes all grid runs of one symbol
type SymbolAggregate struct {
	Symbol         string  `json:"symbol"`
	Runs           int     `json:"runs"`
	AvgPnLPct      float64 `json:"avg_pnl_pct"`
	AvgDrawdownPct float64 `json:"avg_drawdown_pct"`
	BestScore      float64 `json:"best_score"`
}

func (s *BacktestStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy TEXT NOT NULL,
			run_at DATETIME NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			days_back INTEGER NOT NULL DEFAULT 0,
			atr_multiplier REAL NOT NULL DEFAULT 0,
			grid_count INTEGER NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 1,
			investment REAL NOT NULL DEFAULT 0,
			final_equity REAL NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			total_pnl_pct REAL NOT NULL DEFAULT 0,
			max_drawdown_pct REAL NOT NULL DEFAULT 0,
			filled_levels INTEGER NOT NULL DEFAULT 0,
			breakout_resets INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs(symbol, run_at DESC)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
	}

	// Columns added after the first schema
	s.addColumnIfNotExists("backtest_runs", "sideways_score", "REAL DEFAULT 0")
	s.addColumnIfNotExists("backtest_runs", "score", "REAL DEFAULT 0")
	return nil
}

func (s *BacktestStore) addColumnIfNotExists(table, column, definition string) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			found = true
		}
	}
	rows.Close()

	if !found {
		s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	}
}

// Save stores a run and sets its ID
func (s *BacktestStore) Save(run *BacktestRun) error {
	if run.RunAt.IsZero() {
		run.RunAt = time.Now().UTC()
	}
	if run.Strategy == "" {
		run.Strategy = GridStrategyName(run.ATRMultiplier, run.GridCount, run.Timeframe)
	}

	result, err := s.db.Exec(`
		INSERT INTO backtest_runs (
			strategy, run_at, symbol, timeframe, days_back, atr_multiplier, grid_count,
			leverage, investment, final_equity, total_pnl, total_pnl_pct, max_drawdown_pct,
			filled_levels, breakout_resets, sideways_score, score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.Strategy, run.RunAt.UTC().Format(time.RFC3339), run.Symbol, run.Timeframe,
		run.DaysBack, run.ATRMultiplier, run.GridCount, run.Leverage, run.Investment,
		run.FinalEquity, run.TotalPnL, run.TotalPnLPct, run.MaxDrawdownPct,
		run.FilledLevels, run.BreakoutResets, run.SidewaysScore, run.Score,
	)
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		run.ID = id
	}
	return nil
}

// ListBySymbol returns the latest runs of a symbol, newest first
func (s *BacktestStore) ListBySymbol(symbol string, limit int) ([]*BacktestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, strategy, run_at, symbol, timeframe, days_back, atr_multiplier, grid_count,
			leverage, investment, final_equity, total_pnl, total_pnl_pct, max_drawdown_pct,
			filled_levels, breakout_resets, sideways_score, score
		FROM backtest_runs
		WHERE symbol = ?
		ORDER BY run_at DESC, id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*BacktestRun
	for rows.Next() {
		run := &BacktestRun{}
		var runAt string
		if err := rows.Scan(
			&run.ID, &run.Strategy, &runAt, &run.Symbol, &run.Timeframe, &run.DaysBack,
			&run.ATRMultiplier, &run.GridCount, &run.Leverage, &run.Investment,
			&run.FinalEquity, &run.TotalPnL, &run.TotalPnLPct, &run.MaxDrawdownPct,
			&run.FilledLevels, &run.BreakoutResets, &run.SidewaysScore, &run.Score,
		); err != nil {
			return nil, err
		}
		run.RunAt, _ = time.Parse(time.RFC3339, runAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Aggregate averages the grid runs of a symbol. Returns nil when the symbol has none.
func (s *BacktestStore) Aggregate(ctx context.Context, symbol string) (*SymbolAggregate, error) {
	agg := &SymbolAggregate{Symbol: symbol}
	var avgPnl, avgDD, best sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(total_pnl_pct), AVG(max_drawdown_pct), MAX(score)
		FROM backtest_runs
		WHERE symbol = ? AND strategy LIKE 'GRID_%'
	`, symbol).Scan(&agg.Runs, &avgPnl, &avgDD, &best)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate backtest runs: %w", err)
	}
	if agg.Runs == 0 {
		return nil, nil
	}
	agg.AvgPnLPct = avgPnl.Float64
	agg.AvgDrawdownPct = avgDD.Float64
	agg.BestScore = best.Float64
	return agg, nil
}

// Leaderboard returns per-symbol aggregates ordered by average return
func (s *BacktestStore) Leaderboard(limit int) ([]SymbolAggregate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT symbol, COUNT(*), AVG(total_pnl_pct), AVG(max_drawdown_pct), MAX(score)
		FROM backtest_runs
		WHERE strategy LIKE 'GRID_%'
		GROUP BY symbol
		ORDER BY AVG(total_pnl_pct) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []SymbolAggregate
	for rows.Next() {
		var a SymbolAggregate
		if err := rows.Scan(&a.Symbol, &a.Runs, &a.AvgPnLPct, &a.AvgDrawdownPct, &a.BestScore); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
