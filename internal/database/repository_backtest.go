package database

import (
	"context"
	"fmt"

	"nifty-insight-server/internal/backtest"
)

// ============================================================================
// BACKTEST RUNS
// ============================================================================

// SaveBacktestRun inserts a backtest run summary. Satisfies
// backtest.Store
func (r *Repository) SaveBacktestRun(ctx context.Context, run backtest.RunRecord) error {
	query := `
		INSERT INTO backtest_runs (
			id, symbol, timeframe, start_date, end_date, initial_capital,
			final_equity, total_trades, win_rate, net_profit, roi,
			max_drawdown, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		run.ID, run.Symbol, run.Timeframe, run.From, run.To,
		run.InitialCapital, run.FinalEquity, run.TotalTrades, run.WinRate,
		run.NetProfit, run.ROI, run.MaxDrawdown, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}

	return nil
}
