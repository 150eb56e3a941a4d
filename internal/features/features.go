package features

import (
	"database/sql"
	"log"
	"math"
	"sort"

	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/panel"
)

const weeksPerYear = 52

// Build derives the feature table from a filtered panel. Rows are
// partitioned by (country, market, grade) and each partition is treated as
// an independent observed sequence: lags look back by sequence position,
// not by calendar distance, so a gap week simply does not exist for the
// lag. The cost pressure score standardizes over the full panel, not per
// partition. Output row count always equals input row count.
func Build(rows []models.PanelRow) []models.FeatureRow {
	pressure := panel.CostPressure(rows)

	byEntity := make(map[models.EntityKey][]int)
	for i, r := range rows {
		k := r.Entity()
		byEntity[k] = append(byEntity[k], i)
	}

	keys := make([]models.EntityKey, 0, len(byEntity))
	for k := range byEntity {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.GradeNorm < b.GradeNorm
	})

	out := make([]models.FeatureRow, 0, len(rows))
	for _, k := range keys {
		out = append(out, buildEntity(rows, pressure, byEntity[k])...)
	}

	log.Printf("features: built %d feature rows across %d entities", len(out), len(keys))
	return out
}

// buildEntity computes lag, rolling and calendar features for one entity's
// row indexes, sorted strictly ascending by week.
func buildEntity(rows []models.PanelRow, pressure []float64, idx []int) []models.FeatureRow {
	sort.SliceStable(idx, func(i, j int) bool {
		return rows[idx[i]].WeekStart.Before(rows[idx[j]].WeekStart)
	})

	out := make([]models.FeatureRow, len(idx))
	for n, i := range idx {
		r := rows[i]
		f := models.FeatureRow{PanelRow: r}

		if n >= 1 {
			f.Lag1Week = rows[idx[n-1]].PriceEurPerL
		}
		if n >= 2 {
			f.Lag2Week = rows[idx[n-2]].PriceEurPerL
		}
		f.Rolling3 = trailingMean(rows, idx, n, 3)
		f.Rolling10 = trailingMean(rows, idx, n, 10)

		f.Month = int(r.WeekStart.Month())
		f.DayOfWeek = (int(r.WeekStart.Weekday()) + 6) % 7
		f.Quarter = (int(r.WeekStart.Month())-1)/3 + 1
		_, week := r.WeekStart.ISOWeek()
		f.SinWeek = math.Sin(2 * math.Pi * float64(week) / weeksPerYear)
		f.CostPressure = pressure[i]

		out[n] = f
	}
	return out
}

// trailingMean averages the observed prices in the window ending at
// sequence position n, inclusive. Minimum window is 1: a single
// observation is its own mean.
func trailingMean(rows []models.PanelRow, idx []int, n, window int) sql.NullFloat64 {
	start := n - window + 1
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for _, i := range idx[start : n+1] {
		if rows[i].PriceEurPerL.Valid {
			sum += rows[i].PriceEurPerL.Float64
			count++
		}
	}
	if count == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: sum / float64(count), Valid: true}
}
