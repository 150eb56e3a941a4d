package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lox/olivepanel/internal/models"
)

// table names under the output root.
const (
	TableWeeklyPanel   = "weekly_panel"
	TableFeatures      = "features"
	TableModelFeatures = "model_features"
)

// panelColumns is the stable output order of the panel table. Consumers
// diff snapshots column-wise, so the order never changes between runs.
var panelColumns = []string{
	"week_start", "country", "iso2", "market", "grade", "grade_norm", "hs_prefix", "pack",
	"price_eur_per_l", "price_usd_per_l", "base_usd_per_l", "usd_per_eur",
	"adval_pct", "duty_rate", "specific_usd_per_kg", "duty_specific_usd_per_l",
	"duty_cost", "duty_usd_per_l",
	"brent_usd_per_bbl", "ocean_proxy", "ocean_idx", "ocean_uplift",
	"diesel_usd_per_gal", "diesel_uplift", "pack_cost",
	"ppi_glass", "ppi_plastic_bottles", "ppi_steel",
	"deliv_hat_usd_per_l", "z_base", "snapshot_date",
}

var featureColumns = []string{
	"week_start", "country", "market", "grade_norm",
	"price_eur_per_l", "price_usd_per_l", "deliv_hat_usd_per_l", "z_base",
	"lag1_week", "lag2_week", "rolling3", "rolling10",
	"month", "day_of_week", "quarter", "sin_week", "cost_pressure",
	"snapshot_date",
}

// modelColumns is the reduced projection handed to the forecasting side.
var modelColumns = []string{
	"week_start", "country", "market", "grade_norm",
	"price_eur_per_l", "lag1_week", "lag2_week", "rolling3", "rolling10",
	"month", "quarter", "sin_week", "z_base", "cost_pressure",
}

// Writer emits snapshot-partitioned CSV tables under one output root:
// <root>/<table>/snapshot_date=<date>/<table>.csv.
type Writer struct {
	root string
}

func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

func (w *Writer) partitionPath(table, snapshot string) (string, error) {
	dir := filepath.Join(w.root, table, "snapshot_date="+snapshot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return filepath.Join(dir, table+".csv"), nil
}

func (w *Writer) writeTable(table, snapshot string, header []string, rows [][]string) error {
	path, err := w.partitionPath(table, snapshot)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}

	log.Printf("export: wrote %d rows to %s", len(rows), path)
	return nil
}

// WritePanel exports the weekly panel for one snapshot.
func (w *Writer) WritePanel(snapshot string, rows []models.PanelRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			dateCell(r.WeekStart), r.Country, r.Iso2, r.Market, r.Grade, r.GradeNorm, r.HSPrefix, r.Pack,
			numCell(r.PriceEurPerL), numCell(r.PriceUsdPerL), numCell(r.BaseUsdPerL), numCell(r.UsdPerEur),
			numCell(r.AdvalPct), numCell(r.DutyRate), numCell(r.SpecificUsdPerKg), numCell(r.DutySpecificUsdPerL),
			numCell(r.DutyCost), numCell(r.DutyUsdPerL),
			numCell(r.BrentUsdPerBbl), numCell(r.OceanProxy), numCell(r.OceanIdx), numCell(r.OceanUplift),
			numCell(r.DieselUsdPerGal), numCell(r.DieselUplift), numCell(r.PackCost),
			numCell(r.PPIGlass), numCell(r.PPIPlasticBottles), numCell(r.PPISteel),
			numCell(r.DelivHatUsdPerL), numCell(r.ZBase), snapshot,
		})
	}
	return w.writeTable(TableWeeklyPanel, snapshot, panelColumns, records)
}

// WriteFeatures exports the full feature table for one snapshot.
func (w *Writer) WriteFeatures(snapshot string, rows []models.FeatureRow) error {
	records := make([][]string, 0, len(rows))
	for _, f := range rows {
		records = append(records, []string{
			dateCell(f.WeekStart), f.Country, f.Market, f.GradeNorm,
			numCell(f.PriceEurPerL), numCell(f.PriceUsdPerL), numCell(f.DelivHatUsdPerL), numCell(f.ZBase),
			numCell(f.Lag1Week), numCell(f.Lag2Week), numCell(f.Rolling3), numCell(f.Rolling10),
			strconv.Itoa(f.Month), strconv.Itoa(f.DayOfWeek), strconv.Itoa(f.Quarter),
			floatCell(f.SinWeek), floatCell(f.CostPressure),
			snapshot,
		})
	}
	return w.writeTable(TableFeatures, snapshot, featureColumns, records)
}

// WriteModelFeatures exports the reduced model-ready projection.
func (w *Writer) WriteModelFeatures(snapshot string, rows []models.FeatureRow) error {
	records := make([][]string, 0, len(rows))
	for _, f := range rows {
		records = append(records, []string{
			dateCell(f.WeekStart), f.Country, f.Market, f.GradeNorm,
			numCell(f.PriceEurPerL), numCell(f.Lag1Week), numCell(f.Lag2Week),
			numCell(f.Rolling3), numCell(f.Rolling10),
			strconv.Itoa(f.Month), strconv.Itoa(f.Quarter),
			floatCell(f.SinWeek), numCell(f.ZBase), floatCell(f.CostPressure),
		})
	}
	return w.writeTable(TableModelFeatures, snapshot, modelColumns, records)
}

func dateCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// numCell renders a nullable numeric; null is an empty cell.
func numCell(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return floatCell(v.Float64)
}

func floatCell(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
