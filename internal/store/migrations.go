package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS series_points (
    series TEXT NOT NULL,
    date DATE NOT NULL,
    value REAL NOT NULL,
    fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (series, date)
);

CREATE TABLE IF NOT EXISTS spot_prices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date DATE,
    country TEXT,
    market TEXT,
    grade TEXT,
    pack TEXT,
    price_eur_per_l REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tariffs (
    hs_prefix TEXT PRIMARY KEY,
    adval_pct REAL NOT NULL DEFAULT 0,
    specific_usd_per_kg REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS weekly_panel (
    snapshot_date TEXT NOT NULL,
    week_start DATE NOT NULL,
    country TEXT NOT NULL,
    iso2 TEXT,
    market TEXT NOT NULL,
    grade TEXT,
    grade_norm TEXT NOT NULL,
    hs_prefix TEXT,
    pack TEXT,
    price_eur_per_l REAL,
    price_usd_per_l REAL,
    base_usd_per_l REAL,
    usd_per_eur REAL,
    adval_pct REAL,
    duty_rate REAL,
    specific_usd_per_kg REAL,
    duty_specific_usd_per_l REAL,
    duty_cost REAL,
    duty_usd_per_l REAL,
    brent_usd_per_bbl REAL,
    ocean_proxy REAL,
    ocean_idx REAL,
    ocean_uplift REAL,
    diesel_usd_per_gal REAL,
    diesel_uplift REAL,
    pack_cost REAL,
    ppi_glass REAL,
    ppi_plastic_bottles REAL,
    ppi_steel REAL,
    deliv_hat_usd_per_l REAL,
    z_base REAL,
    PRIMARY KEY (snapshot_date, week_start, country, market, grade_norm)
);

CREATE TABLE IF NOT EXISTS features (
    snapshot_date TEXT NOT NULL,
    week_start DATE NOT NULL,
    country TEXT NOT NULL,
    market TEXT NOT NULL,
    grade_norm TEXT NOT NULL,
    price_eur_per_l REAL,
    price_usd_per_l REAL,
    deliv_hat_usd_per_l REAL,
    z_base REAL,
    lag1_week REAL,
    lag2_week REAL,
    rolling3 REAL,
    rolling10 REAL,
    month INTEGER,
    day_of_week INTEGER,
    quarter INTEGER,
    sin_week REAL,
    cost_pressure REAL,
    PRIMARY KEY (snapshot_date, week_start, country, market, grade_norm)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    source TEXT NOT NULL,
    series TEXT,
    http_status INTEGER,
    records_fetched INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_series_points_series ON series_points(series, date);
CREATE INDEX IF NOT EXISTS idx_spot_prices_date ON spot_prices(date);
CREATE INDEX IF NOT EXISTS idx_panel_week ON weekly_panel(week_start);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs(source, started_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
