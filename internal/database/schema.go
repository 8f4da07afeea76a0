package database

import (
	"context"
	"fmt"
	"strings"
)

var migrations = []string{
	// Weekly template, one row per weekday (0 = Sunday).
	`CREATE TABLE IF NOT EXISTS weekly_schedule (
		day_of_week INTEGER PRIMARY KEY,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		time_slots TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME,
		updated_at DATETIME
	)`,

	// Date-specific bookings and admin blocks.
	`CREATE TABLE IF NOT EXISTS exceptions (
		id TEXT PRIMARY KEY,
		booking_date TEXT NOT NULL,
		kind TEXT NOT NULL,
		time_slots TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		customer_ref TEXT,
		session_type TEXT,
		details TEXT,
		reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,

	`CREATE TABLE IF NOT EXISTS studio_config (
		config_key TEXT PRIMARY KEY,
		config_value TEXT NOT NULL,
		updated_at DATETIME
	)`,

	`CREATE INDEX IF NOT EXISTS idx_exceptions_date_status ON exceptions(booking_date, status)`,
	`CREATE INDEX IF NOT EXISTS idx_exceptions_kind ON exceptions(kind)`,
}

// Migrate creates the schema if it does not exist.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	for _, q := range migrations {
		if b.driver == DriverPostgres {
			q = strings.ReplaceAll(q, "DATETIME", "TIMESTAMPTZ")
		}
		if _, err := b.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	b.logger.Debug().Int("statements", len(migrations)).Msg("schema migrated")
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
