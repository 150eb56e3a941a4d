package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/olivepanel/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ReplaceSeries swaps in the latest fetch of one macro series. Each fetch
// returns full history, so replace is delete+insert inside one transaction.
func (s *Store) ReplaceSeries(series string, points []models.RawPoint) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM series_points WHERE series = ?`, series); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete series %s: %w", series, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO series_points (series, date, value) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(series, p.Date, p.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert series %s point %s: %w", series, p.Date.Format("2006-01-02"), err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSeries(series string) ([]models.RawPoint, error) {
	rows, err := s.db.Query(`SELECT date, value FROM series_points WHERE series = ? ORDER BY date`, series)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.RawPoint
	for rows.Next() {
		var p models.RawPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, err
		}
		p.Date = p.Date.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// ReplaceSpotPrices swaps in the latest standardized price sheet.
func (s *Store) ReplaceSpotPrices(prices []models.SpotPrice) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM spot_prices`); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete spot prices: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO spot_prices (date, country, market, grade, pack, price_eur_per_l)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range prices {
		var d interface{}
		if !p.Date.IsZero() {
			d = p.Date
		}
		if _, err := stmt.Exec(d, p.Country, p.Market, p.Grade, p.Pack, p.PriceEurPerL); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert spot price: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSpotPrices() ([]models.SpotPrice, error) {
	rows, err := s.db.Query(`SELECT date, country, market, grade, pack, price_eur_per_l FROM spot_prices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []models.SpotPrice
	for rows.Next() {
		var p models.SpotPrice
		var d sql.NullTime
		if err := rows.Scan(&d, &p.Country, &p.Market, &p.Grade, &p.Pack, &p.PriceEurPerL); err != nil {
			return nil, err
		}
		if d.Valid {
			p.Date = d.Time.UTC()
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// ReplaceTariffs swaps in the standardized tariff schedule.
func (s *Store) ReplaceTariffs(tariffs []models.TariffRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM tariffs`); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete tariffs: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO tariffs (hs_prefix, adval_pct, specific_usd_per_kg) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, t := range tariffs {
		if _, err := stmt.Exec(t.HSPrefix, t.AdvalPct, t.SpecificUsdPerKg); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert tariff %s: %w", t.HSPrefix, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetTariffs() ([]models.TariffRecord, error) {
	rows, err := s.db.Query(`SELECT hs_prefix, adval_pct, specific_usd_per_kg FROM tariffs ORDER BY hs_prefix`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tariffs []models.TariffRecord
	for rows.Next() {
		var t models.TariffRecord
		if err := rows.Scan(&t.HSPrefix, &t.AdvalPct, &t.SpecificUsdPerKg); err != nil {
			return nil, err
		}
		tariffs = append(tariffs, t)
	}
	return tariffs, rows.Err()
}

// ReplacePanelSnapshot replaces the panel rows for one snapshot date.
// Re-running a snapshot must be idempotent, so the previous rows go first.
func (s *Store) ReplacePanelSnapshot(snapshot string, rows []models.PanelRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM weekly_panel WHERE snapshot_date = ?`, snapshot); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete panel snapshot %s: %w", snapshot, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO weekly_panel (
			snapshot_date, week_start, country, iso2, market, grade, grade_norm, hs_prefix, pack,
			price_eur_per_l, price_usd_per_l, base_usd_per_l, usd_per_eur,
			adval_pct, duty_rate, specific_usd_per_kg, duty_specific_usd_per_l, duty_cost, duty_usd_per_l,
			brent_usd_per_bbl, ocean_proxy, ocean_idx, ocean_uplift,
			diesel_usd_per_gal, diesel_uplift, pack_cost,
			ppi_glass, ppi_plastic_bottles, ppi_steel,
			deliv_hat_usd_per_l, z_base
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(
			snapshot, r.WeekStart, r.Country, r.Iso2, r.Market, r.Grade, r.GradeNorm, r.HSPrefix, r.Pack,
			r.PriceEurPerL, r.PriceUsdPerL, r.BaseUsdPerL, r.UsdPerEur,
			r.AdvalPct, r.DutyRate, r.SpecificUsdPerKg, r.DutySpecificUsdPerL, r.DutyCost, r.DutyUsdPerL,
			r.BrentUsdPerBbl, r.OceanProxy, r.OceanIdx, r.OceanUplift,
			r.DieselUsdPerGal, r.DieselUplift, r.PackCost,
			r.PPIGlass, r.PPIPlasticBottles, r.PPISteel,
			r.DelivHatUsdPerL, r.ZBase,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert panel row: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetPanelSnapshot(snapshot string) ([]models.PanelRow, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_date, week_start, country, iso2, market, grade, grade_norm, hs_prefix, pack,
			price_eur_per_l, price_usd_per_l, base_usd_per_l, usd_per_eur,
			adval_pct, duty_rate, specific_usd_per_kg, duty_specific_usd_per_l, duty_cost, duty_usd_per_l,
			brent_usd_per_bbl, ocean_proxy, ocean_idx, ocean_uplift,
			diesel_usd_per_gal, diesel_uplift, pack_cost,
			ppi_glass, ppi_plastic_bottles, ppi_steel,
			deliv_hat_usd_per_l, z_base
		FROM weekly_panel
		WHERE snapshot_date = ?
		ORDER BY week_start, country, market, grade_norm
	`, snapshot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PanelRow
	for rows.Next() {
		var r models.PanelRow
		if err := rows.Scan(
			&r.SnapshotDate, &r.WeekStart, &r.Country, &r.Iso2, &r.Market, &r.Grade, &r.GradeNorm, &r.HSPrefix, &r.Pack,
			&r.PriceEurPerL, &r.PriceUsdPerL, &r.BaseUsdPerL, &r.UsdPerEur,
			&r.AdvalPct, &r.DutyRate, &r.SpecificUsdPerKg, &r.DutySpecificUsdPerL, &r.DutyCost, &r.DutyUsdPerL,
			&r.BrentUsdPerBbl, &r.OceanProxy, &r.OceanIdx, &r.OceanUplift,
			&r.DieselUsdPerGal, &r.DieselUplift, &r.PackCost,
			&r.PPIGlass, &r.PPIPlasticBottles, &r.PPISteel,
			&r.DelivHatUsdPerL, &r.ZBase,
		); err != nil {
			return nil, err
		}
		r.WeekStart = r.WeekStart.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceFeatureSnapshot replaces the feature rows for one snapshot date.
func (s *Store) ReplaceFeatureSnapshot(snapshot string, rows []models.FeatureRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM features WHERE snapshot_date = ?`, snapshot); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete feature snapshot %s: %w", snapshot, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO features (
			snapshot_date, week_start, country, market, grade_norm,
			price_eur_per_l, price_usd_per_l, deliv_hat_usd_per_l, z_base,
			lag1_week, lag2_week, rolling3, rolling10,
			month, day_of_week, quarter, sin_week, cost_pressure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, f := range rows {
		if _, err := stmt.Exec(
			snapshot, f.WeekStart, f.Country, f.Market, f.GradeNorm,
			f.PriceEurPerL, f.PriceUsdPerL, f.DelivHatUsdPerL, f.ZBase,
			f.Lag1Week, f.Lag2Week, f.Rolling3, f.Rolling10,
			f.Month, f.DayOfWeek, f.Quarter, f.SinWeek, f.CostPressure,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert feature row: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetFeatureSnapshot(snapshot string) ([]models.FeatureRow, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_date, week_start, country, market, grade_norm,
			price_eur_per_l, price_usd_per_l, deliv_hat_usd_per_l, z_base,
			lag1_week, lag2_week, rolling3, rolling10,
			month, day_of_week, quarter, sin_week, cost_pressure
		FROM features
		WHERE snapshot_date = ?
		ORDER BY week_start, country, market, grade_norm
	`, snapshot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeatureRow
	for rows.Next() {
		var f models.FeatureRow
		if err := rows.Scan(
			&f.SnapshotDate, &f.WeekStart, &f.Country, &f.Market, &f.GradeNorm,
			&f.PriceEurPerL, &f.PriceUsdPerL, &f.DelivHatUsdPerL, &f.ZBase,
			&f.Lag1Week, &f.Lag2Week, &f.Rolling3, &f.Rolling10,
			&f.Month, &f.DayOfWeek, &f.Quarter, &f.SinWeek, &f.CostPressure,
		); err != nil {
			return nil, err
		}
		f.WeekStart = f.WeekStart.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// StartIngestRun creates a bookkeeping record for one fetch attempt.
func (s *Store) StartIngestRun(source, series string) (*models.IngestRun, error) {
	run := &models.IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Series:    series,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, series, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Series)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun records the outcome of a fetch attempt.
func (s *Store) CompleteIngestRun(run *models.IngestRun) error {
	if run == nil {
		return nil
	}
	run.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs
		SET completed_at = ?, http_status = ?, records_fetched = ?, records_parsed = ?,
			records_stored = ?, success = ?, error_message = ?
		WHERE id = ?
	`, run.CompletedAt, run.HTTPStatus, run.RecordsFetched, run.RecordsParsed,
		run.RecordsStored, run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentIngestRuns returns the latest fetch attempts, newest first.
func (s *Store) RecentIngestRuns(limit int) ([]models.IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, source, series, http_status,
			records_fetched, records_parsed, records_stored, success, error_message
		FROM ingest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.IngestRun
	for rows.Next() {
		var r models.IngestRun
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &r.CompletedAt, &r.Source, &r.Series, &r.HTTPStatus,
			&r.RecordsFetched, &r.RecordsParsed, &r.RecordsStored, &r.Success, &r.ErrorMessage,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
