package database

import (
	"context"
	"fmt"

	"nifty-insight-server/internal/signal"
)

// ============================================================================
// SIGNALS
// ============================================================================

// SaveSignal inserts a generated signal. Satisfies signal.Store
func (r *Repository) SaveSignal(ctx context.Context, sig signal.Signal) error {
	query := `
		INSERT INTO signals (
			id, timestamp, symbol, scenario, signal, entry_price, stop_price,
			target_price, risk_reward, position_size, confidence, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		sig.ID, sig.Timestamp, sig.Symbol, sig.Scenario, string(sig.Signal),
		sig.EntryPrice, sig.StopPrice, sig.TargetPrice, sig.RiskReward,
		sig.PositionSize, sig.Confidence, sig.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}

	return nil
}

// RecentSignals retrieves the newest signals for a symbol, most recent
// first
func (r *Repository) RecentSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, timestamp, symbol, scenario, signal, entry_price, stop_price,
		       target_price, risk_reward, position_size, confidence, reason
		FROM signals
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []signal.Signal
	for rows.Next() {
		var s signal.Signal
		var direction string
		if err := rows.Scan(
			&s.ID, &s.Timestamp, &s.Symbol, &s.Scenario, &direction,
			&s.EntryPrice, &s.StopPrice, &s.TargetPrice, &s.RiskReward,
			&s.PositionSize, &s.Confidence, &s.Reason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.Signal = signal.Direction(direction)
		signals = append(signals, s)
	}

	return signals, rows.Err()
}
