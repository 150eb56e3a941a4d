package panel

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lox/olivepanel/internal/calendar"
	"github.com/lox/olivepanel/internal/models"
)

// NormalizeGrade uppercases and trims a raw grade label.
func NormalizeGrade(grade string) string {
	return strings.ToUpper(strings.TrimSpace(grade))
}

// Merge builds the weekly panel: one row per spot-price observation,
// left-joined with the macro grid on week_start and with the tariff table
// on the grade's HS prefix. Every spot row survives the merge even when all
// macro and tariff columns come back null. Grid and tariff keys are deduped
// keep-last before joining so the panel can never fan out; a duplicate
// (week, country, market, grade) key after the merge is a defect and fails
// the stage. Rows whose dates never parsed carry a zero week and are exempt
// from the uniqueness check: they are recovered locally and dropped later
// by the usability filter, not here.
func Merge(spot []models.SpotPrice, grid []models.MacroRow, tariffs []models.TariffRecord, snapshot string) ([]models.PanelRow, error) {
	if len(spot) == 0 {
		return nil, fmt.Errorf("merge: no spot price rows")
	}

	macroByWeek := dedupeGrid(grid)
	tariffByHS := dedupeTariffs(tariffs)

	type panelKey struct {
		week                   time.Time
		country, market, grade string
	}
	seen := make(map[panelKey]bool, len(spot))

	rows := make([]models.PanelRow, 0, len(spot))
	for _, sp := range spot {
		row := models.PanelRow{
			SnapshotDate: snapshot,
			Country:      sp.Country,
			Iso2:         sp.Country,
			Market:       sp.Market,
			Grade:        sp.Grade,
			GradeNorm:    NormalizeGrade(sp.Grade),
			Pack:         sp.Pack,
			PriceEurPerL: sp.PriceEurPerL,
		}
		if row.Pack == "" {
			row.Pack = "glass"
		}
		if !sp.Date.IsZero() {
			row.WeekStart = calendar.MondayWeek(sp.Date)
		}
		row.HSPrefix = GradeToHS[row.GradeNorm]

		if !row.WeekStart.IsZero() {
			key := panelKey{week: row.WeekStart, country: row.Country, market: row.Market, grade: row.GradeNorm}
			if seen[key] {
				return nil, fmt.Errorf("merge: duplicate panel key (%s, %s, %s, %s)",
					row.WeekStart.Format("2006-01-02"), row.Country, row.Market, row.GradeNorm)
			}
			seen[key] = true
		}

		if m, ok := macroByWeek[row.WeekStart]; ok {
			row.UsdPerEur = m.UsdPerEur
			row.BrentUsdPerBbl = m.BrentUsdPerBbl
			row.DieselUsdPerGal = m.DieselUsdPerGal
			row.PPIGlass = m.PPIGlass
			row.PPIPlasticBottles = m.PPIPlasticBottles
			row.PPISteel = m.PPISteel
			row.OceanProxy = m.OceanProxy
		}

		if t, ok := tariffByHS[row.HSPrefix]; ok && row.HSPrefix != "" {
			row.AdvalPct = sql.NullFloat64{Float64: t.AdvalPct, Valid: true}
			row.SpecificUsdPerKg = sql.NullFloat64{Float64: t.SpecificUsdPerKg, Valid: true}
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.WeekStart.Equal(b.WeekStart) {
			return a.WeekStart.Before(b.WeekStart)
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.GradeNorm < b.GradeNorm
	})

	log.Printf("merge: built panel with %d rows from %d spot observations", len(rows), len(spot))
	return rows, nil
}

// dedupeGrid collapses duplicate week keys keep-last. Input order after a
// stable sort by week defines "last", so the result is reproducible.
func dedupeGrid(grid []models.MacroRow) map[time.Time]models.MacroRow {
	sorted := make([]models.MacroRow, len(grid))
	copy(sorted, grid)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].WeekStart.Before(sorted[j].WeekStart) })

	out := make(map[time.Time]models.MacroRow, len(sorted))
	for _, row := range sorted {
		out[row.WeekStart] = row
	}
	return out
}

// dedupeTariffs collapses duplicate HS prefixes keep-last.
func dedupeTariffs(tariffs []models.TariffRecord) map[string]models.TariffRecord {
	sorted := make([]models.TariffRecord, len(tariffs))
	copy(sorted, tariffs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].HSPrefix < sorted[j].HSPrefix })

	out := make(map[string]models.TariffRecord, len(sorted))
	for _, t := range sorted {
		out[t.HSPrefix] = t
	}
	return out
}
