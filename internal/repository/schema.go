package repository

import (
	"database/sql"
	"fmt"
)

// schema - таблицы настроек и журнала событий
var schema = []string{
	`CREATE TABLE IF NOT EXISTS asset_pair_settings (
		asset_pair_id VARCHAR(64) PRIMARY KEY,
		settings JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_settings (
		asset_pair_id VARCHAR(64) NOT NULL,
		exchange VARCHAR(64) NOT NULL,
		settings JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (asset_pair_id, exchange)
	)`,
	`CREATE TABLE IF NOT EXISTS pricing_events (
		id BIGSERIAL PRIMARY KEY,
		event_id VARCHAR(64) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		asset_pair_id VARCHAR(64) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pricing_events_created ON pricing_events (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pricing_events_pair ON pricing_events (asset_pair_id, created_at DESC)`,
}

// Migrate создаёт таблицы, если их нет. Повторный вызов ничего не меняет.
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
