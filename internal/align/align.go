package align

import (
	"database/sql"
	"sort"
	"time"

	"github.com/lox/olivepanel/internal/calendar"
	"github.com/lox/olivepanel/internal/models"
)

// Canonical series names used as grid columns. Every aligned series feeding
// the macro grid must use one of these.
const (
	SeriesUsdPerEur         = "usd_per_eur"
	SeriesBrentUsdPerBbl    = "brent_usd_per_bbl"
	SeriesDieselUsdPerGal   = "diesel_usd_per_gal"
	SeriesPPIGlass          = "ppi_glass"
	SeriesPPIPlasticBottles = "ppi_plastic_bottles"
	SeriesPPISteel          = "ppi_steel"
	SeriesFBX               = "fbx"
)

// WeeklyMean resamples a raw series onto the Monday-week calendar, averaging
// observations that fall in the same week. Empty input yields empty output.
func WeeklyMean(points []models.RawPoint) []models.WeeklyPoint {
	if len(points) == 0 {
		return nil
	}

	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, p := range points {
		wk := calendar.MondayWeek(p.Date)
		sums[wk] += p.Value
		counts[wk]++
	}

	out := make([]models.WeeklyPoint, 0, len(sums))
	for wk, sum := range sums {
		out = append(out, models.WeeklyPoint{WeekStart: wk, Value: sum / float64(counts[wk])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out
}

// BuildGrid outer-joins the named weekly series onto a contiguous
// Monday-spaced range spanning the earliest to latest observed week, then
// forward-fills each column independently. The last known value persists
// until a newer observation appears; weeks before a series' first
// observation stay null. Duplicate weeks within a series resolve keep-last.
func BuildGrid(series map[string][]models.WeeklyPoint) []models.MacroRow {
	var minWeek, maxWeek time.Time
	for _, pts := range series {
		for _, p := range pts {
			wk := calendar.MondayWeek(p.WeekStart)
			if minWeek.IsZero() || wk.Before(minWeek) {
				minWeek = wk
			}
			if maxWeek.IsZero() || wk.After(maxWeek) {
				maxWeek = wk
			}
		}
	}
	if minWeek.IsZero() {
		return nil
	}

	// Per-series lookup, later points win on the same week.
	lookup := make(map[string]map[time.Time]float64, len(series))
	for name, pts := range series {
		m := make(map[time.Time]float64, len(pts))
		for _, p := range pts {
			m[calendar.MondayWeek(p.WeekStart)] = p.Value
		}
		lookup[name] = m
	}

	var rows []models.MacroRow
	last := make(map[string]sql.NullFloat64)
	for wk := minWeek; !wk.After(maxWeek); wk = wk.AddDate(0, 0, 7) {
		row := models.MacroRow{WeekStart: wk}
		for name, m := range lookup {
			cell := last[name]
			if v, ok := m[wk]; ok {
				cell = sql.NullFloat64{Float64: v, Valid: true}
			}
			last[name] = cell
			setGridColumn(&row, name, cell)
		}
		rows = append(rows, row)
	}
	return rows
}

// brentOceanFactor scales Brent into the freight-proxy range when the FBX
// index is unavailable; bunker fuel tracks crude closely enough for an
// uplift proxy.
const brentOceanFactor = 20.0

// DeriveOceanProxy fills remaining nulls in the grid's ocean_proxy column.
// The column already carries the forward-filled FBX index from BuildGrid;
// weeks before the first FBX observation fall back to scaled Brent.
func DeriveOceanProxy(rows []models.MacroRow) {
	for i := range rows {
		if !rows[i].OceanProxy.Valid && rows[i].BrentUsdPerBbl.Valid {
			rows[i].OceanProxy = sql.NullFloat64{Float64: brentOceanFactor * rows[i].BrentUsdPerBbl.Float64, Valid: true}
		}
	}
}

func setGridColumn(row *models.MacroRow, name string, v sql.NullFloat64) {
	switch name {
	case SeriesUsdPerEur:
		row.UsdPerEur = v
	case SeriesBrentUsdPerBbl:
		row.BrentUsdPerBbl = v
	case SeriesDieselUsdPerGal:
		row.DieselUsdPerGal = v
	case SeriesPPIGlass:
		row.PPIGlass = v
	case SeriesPPIPlasticBottles:
		row.PPIPlasticBottles = v
	case SeriesPPISteel:
		row.PPISteel = v
	case SeriesFBX:
		row.OceanProxy = v
	}
}
