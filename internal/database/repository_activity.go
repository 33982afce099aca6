package database

import (
	"context"
	"encoding/json"
	"fmt"

	"nifty-insight-server/internal/activity"
)

// ============================================================================
// ACTIVITY LOGS
// ============================================================================

// SaveActivityLog inserts an activity feed entry. Satisfies
// activity.Store
func (r *Repository) SaveActivityLog(ctx context.Context, entry activity.Entry) error {
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal log context: %w", err)
	}

	query := `
		INSERT INTO activity_logs (id, timestamp, level, message, context)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		entry.ID, entry.Timestamp, entry.Level, entry.Message, contextJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save activity log: %w", err)
	}

	return nil
}

// RecentActivityLogs retrieves the newest entries, most recent first.
// Used to rehydrate the in-memory feed on startup
func (r *Repository) RecentActivityLogs(ctx context.Context, limit int) ([]activity.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, level, message, context
		FROM activity_logs
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var entry activity.Entry
		var contextJSON []byte
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Level, &entry.Message, &contextJSON); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &entry.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log context: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
