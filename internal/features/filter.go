package features

import (
	"fmt"
	"log"

	"github.com/lox/olivepanel/internal/metrics"
	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/panel"
	"github.com/lox/olivepanel/internal/schema"
)

// PanelContract names the columns a panel table must carry before the
// usability filter will run. A file input missing any of these fails the
// stage with the column names in the error.
var PanelContract = schema.Contract{
	Table:    "weekly_panel",
	Required: []string{"week_start", "country", "market", "grade_norm", "price_eur_per_l"},
	Optional: []string{
		"iso2", "grade", "hs_prefix", "pack", "snapshot_date",
		"price_usd_per_l", "base_usd_per_l", "usd_per_eur",
		"adval_pct", "duty_rate", "specific_usd_per_kg",
		"duty_specific_usd_per_l", "duty_cost", "duty_usd_per_l",
		"brent_usd_per_bbl", "ocean_proxy", "ocean_idx", "ocean_uplift",
		"diesel_usd_per_gal", "diesel_uplift", "pack_cost",
		"ppi_glass", "ppi_plastic_bottles", "ppi_steel",
		"deliv_hat_usd_per_l", "z_base",
	},
}

// coreColumns maps each required panel column onto its presence test. An
// in-memory panel has no physical header, so a column counts as absent
// when it is empty on every row.
var coreColumns = []struct {
	name    string
	present func(models.PanelRow) bool
}{
	{"week_start", func(r models.PanelRow) bool { return !r.WeekStart.IsZero() }},
	{"country", func(r models.PanelRow) bool { return r.Country != "" }},
	{"market", func(r models.PanelRow) bool { return r.Market != "" }},
	{"grade_norm", func(r models.PanelRow) bool { return r.GradeNorm != "" }},
	{"price_eur_per_l", func(r models.PanelRow) bool { return r.PriceEurPerL.Valid }},
}

// effectiveHeader derives the observed header of an in-memory panel for
// the contract check.
func effectiveHeader(rows []models.PanelRow) []string {
	header := make([]string, 0, len(coreColumns))
	for _, c := range coreColumns {
		for _, r := range rows {
			if c.present(r) {
				header = append(header, c.name)
				break
			}
		}
	}
	return header
}

// Usable reports whether a panel row carries every core identity field and
// an observed price. Macro columns never decide usability.
func Usable(r models.PanelRow) bool {
	return !r.WeekStart.IsZero() &&
		r.Country != "" &&
		r.Market != "" &&
		r.GradeNorm != "" &&
		r.PriceEurPerL.Valid
}

// Filter drops unusable rows and imputes the derived price columns the cost
// stage may have left null when its inputs arrived late. A core column
// empty on every row is a schema defect and fails the stage with its name;
// an empty usable set is fatal: the feature builder has nothing to stand on.
func Filter(rows []models.PanelRow) ([]models.PanelRow, error) {
	if err := PanelContract.Validate(effectiveHeader(rows)); err != nil {
		return nil, err
	}

	usable := make([]models.PanelRow, 0, len(rows))
	for _, r := range rows {
		if !Usable(r) {
			continue
		}
		usable = append(usable, impute(r))
	}

	metrics.PanelRowsTotal.Set(float64(len(rows)))
	metrics.PanelRowsUsable.Set(float64(len(usable)))
	log.Printf("filter: %d of %d panel rows usable", len(usable), len(rows))
	logCoverage(usable)

	if len(usable) == 0 {
		return nil, fmt.Errorf("filter: no usable rows in %d panel rows", len(rows))
	}
	return usable, nil
}

// impute backfills the cost columns that depend only on fields already on
// the row. Populated values are left alone.
func impute(r models.PanelRow) models.PanelRow {
	if !r.PriceUsdPerL.Valid && r.PriceEurPerL.Valid && r.UsdPerEur.Valid {
		r.PriceUsdPerL.Float64 = r.PriceEurPerL.Float64 * r.UsdPerEur.Float64
		r.PriceUsdPerL.Valid = true
	}
	if !r.BaseUsdPerL.Valid {
		r.BaseUsdPerL = r.PriceUsdPerL
	}
	if !r.PackCost.Valid {
		cost, ok := panel.PackCostTable[r.Pack]
		if !ok {
			cost = panel.DefaultPackCost
		}
		r.PackCost.Float64 = cost
		r.PackCost.Valid = true
	}
	if !r.DutyUsdPerL.Valid && r.BaseUsdPerL.Valid && (r.AdvalPct.Valid || r.SpecificUsdPerKg.Valid) {
		r.DutyUsdPerL.Float64 = panel.Duty(r.BaseUsdPerL.Float64, r.GradeNorm,
			r.SpecificUsdPerKg.Float64, r.AdvalPct.Float64)
		r.DutyUsdPerL.Valid = true
	}
	return r
}

// logCoverage reports the non-null share of each macro column. Diagnostics
// only; coverage never filters rows.
func logCoverage(rows []models.PanelRow) {
	if len(rows) == 0 {
		return
	}
	cols := []struct {
		name string
		get  func(models.PanelRow) bool
	}{
		{"usd_per_eur", func(r models.PanelRow) bool { return r.UsdPerEur.Valid }},
		{"brent_usd_per_bbl", func(r models.PanelRow) bool { return r.BrentUsdPerBbl.Valid }},
		{"diesel_usd_per_gal", func(r models.PanelRow) bool { return r.DieselUsdPerGal.Valid }},
		{"ppi_glass", func(r models.PanelRow) bool { return r.PPIGlass.Valid }},
		{"ppi_plastic_bottles", func(r models.PanelRow) bool { return r.PPIPlasticBottles.Valid }},
		{"ppi_steel", func(r models.PanelRow) bool { return r.PPISteel.Valid }},
		{"ocean_proxy", func(r models.PanelRow) bool { return r.OceanProxy.Valid }},
	}
	for _, c := range cols {
		var n int
		for _, r := range rows {
			if c.get(r) {
				n++
			}
		}
		log.Printf("filter: coverage %s %.1f%%", c.name, 100*float64(n)/float64(len(rows)))
	}
}
