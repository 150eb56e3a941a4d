package panel

import (
	"database/sql"
	"log"
	"math"

	"github.com/lox/olivepanel/internal/models"
)

// PackCostTable is the fixed packaging cost per litre by material. Unknown
// or missing materials fall back to DefaultPackCost.
var PackCostTable = map[string]float64{
	"glass":   0.22,
	"plastic": 0.12,
	"steel":   0.30,
}

const DefaultPackCost = 0.22

// uplift coefficients from the cost model.
const (
	oceanUpliftFactor  = 0.003
	dieselUpliftFactor = 0.15
)

// DeriveCosts applies the cost formulas row-wise and returns a new slice;
// the input is never mutated. Derivation is idempotent: columns already
// populated are respected and only missing values are backfilled, except
// ocean_uplift, diesel_uplift and z_base which are always recomputed from
// current inputs. Null inputs propagate to null outputs unless a documented
// default applies.
func DeriveCosts(rows []models.PanelRow) []models.PanelRow {
	out := make([]models.PanelRow, len(rows))
	copy(out, rows)

	// diesel_uplift centers on the mean over the full column, not per group.
	dieselMean := columnMean(out, func(r models.PanelRow) sql.NullFloat64 { return r.DieselUsdPerGal })

	for i := range out {
		r := &out[i]

		// FX conversion and the delivered-cost basis.
		if !r.PriceUsdPerL.Valid && r.PriceEurPerL.Valid && r.UsdPerEur.Valid {
			r.PriceUsdPerL = valid(r.PriceEurPerL.Float64 * r.UsdPerEur.Float64)
		}
		if !r.BaseUsdPerL.Valid {
			r.BaseUsdPerL = r.PriceUsdPerL
		}

		// Packaging.
		if !r.PackCost.Valid {
			cost, ok := PackCostTable[r.Pack]
			if !ok {
				cost = DefaultPackCost
			}
			r.PackCost = valid(cost)
		}

		// Tariff inputs coalesce null -> 0 before the duty steps.
		if !r.AdvalPct.Valid {
			r.AdvalPct = valid(0)
		}
		if !r.SpecificUsdPerKg.Valid {
			r.SpecificUsdPerKg = valid(0)
		}
		if !r.DutyRate.Valid {
			r.DutyRate = r.AdvalPct
		}
		if !r.DutySpecificUsdPerL.Valid {
			r.DutySpecificUsdPerL = valid(r.SpecificUsdPerKg.Float64 * Density)
		}
		if !r.DutyCost.Valid && r.PriceUsdPerL.Valid {
			r.DutyCost = valid((r.AdvalPct.Float64/100.0)*r.PriceUsdPerL.Float64 + r.DutySpecificUsdPerL.Float64)
		}
		if !r.DutyUsdPerL.Valid && r.PriceUsdPerL.Valid {
			r.DutyUsdPerL = valid(Duty(r.PriceUsdPerL.Float64, r.GradeNorm, r.SpecificUsdPerKg.Float64, r.AdvalPct.Float64))
		}

		// Freight uplifts: always recomputed from current inputs.
		r.OceanIdx = r.OceanProxy
		r.OceanUplift = sql.NullFloat64{}
		if r.OceanProxy.Valid {
			r.OceanUplift = valid(oceanUpliftFactor * r.OceanProxy.Float64)
		}
		r.DieselUplift = sql.NullFloat64{}
		if r.DieselUsdPerGal.Valid && dieselMean.Valid {
			r.DieselUplift = valid(dieselUpliftFactor * (r.DieselUsdPerGal.Float64 - dieselMean.Float64))
		}

		// Delivered-cost estimate: every component defaults to zero.
		if !r.DelivHatUsdPerL.Valid {
			r.DelivHatUsdPerL = valid(orZero(r.BaseUsdPerL) +
				orZero(r.PackCost) +
				orZero(r.OceanUplift) +
				orZero(r.DieselUplift) +
				orZero(r.DutyCost))
		}
	}

	applyZBase(out)

	log.Printf("costs: derived cost columns for %d rows", len(out))
	return out
}

// applyZBase standardizes base_usd_per_l against the full column. Zero or
// undefined variance yields z_base = 0 for every row rather than NaN.
func applyZBase(rows []models.PanelRow) {
	base := func(r models.PanelRow) sql.NullFloat64 { return r.BaseUsdPerL }
	mean := columnMean(rows, base)
	std := columnStd(rows, base, mean)

	degenerate := !std.Valid || std.Float64 == 0
	for i := range rows {
		switch {
		case degenerate:
			rows[i].ZBase = valid(0)
		case rows[i].BaseUsdPerL.Valid:
			rows[i].ZBase = valid((rows[i].BaseUsdPerL.Float64 - mean.Float64) / std.Float64)
		default:
			rows[i].ZBase = sql.NullFloat64{}
		}
	}
}

// costPressureDrivers weights the freight and input cost columns that feed
// the pressure score. Weights renormalize over the drivers actually present.
var costPressureDrivers = []struct {
	weight float64
	col    func(models.PanelRow) sql.NullFloat64
}{
	{0.4, func(r models.PanelRow) sql.NullFloat64 { return r.OceanProxy }},
	{0.3, func(r models.PanelRow) sql.NullFloat64 { return r.DieselUsdPerGal }},
	{0.1, func(r models.PanelRow) sql.NullFloat64 { return r.PPIGlass }},
	{0.1, func(r models.PanelRow) sql.NullFloat64 { return r.PPIPlasticBottles }},
	{0.1, func(r models.PanelRow) sql.NullFloat64 { return r.PPISteel }},
}

// CostPressure scores every row as the weighted z-score of the cost
// drivers across the full column. A driver that is null or zero on every
// row is excluded and the remaining weights renormalize; with no drivers
// at all every row scores zero. Standardization uses the population
// deviation, a constant driver contributes zero, and a row missing a
// driver value takes that driver at its column mean.
func CostPressure(rows []models.PanelRow) []float64 {
	out := make([]float64, len(rows))

	type active struct {
		weight    float64
		col       func(models.PanelRow) sql.NullFloat64
		mean, std float64
	}
	var drivers []active
	var totalWeight float64
	for _, d := range costPressureDrivers {
		mean := columnMean(rows, d.col)
		if !mean.Valid {
			continue
		}
		allZero := true
		for _, r := range rows {
			if v := d.col(r); v.Valid && v.Float64 != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			continue
		}
		drivers = append(drivers, active{
			weight: d.weight,
			col:    d.col,
			mean:   mean.Float64,
			std:    populationStd(rows, d.col, mean),
		})
		totalWeight += d.weight
	}
	if len(drivers) == 0 {
		return out
	}

	for i, r := range rows {
		var score float64
		for _, d := range drivers {
			v := d.col(r)
			if !v.Valid || d.std == 0 {
				continue
			}
			score += (v.Float64 - d.mean) / d.std * d.weight
		}
		out[i] = score / totalWeight
	}
	return out
}

// populationStd is the uncorrected standard deviation over non-null values.
func populationStd(rows []models.PanelRow, col func(models.PanelRow) sql.NullFloat64, mean sql.NullFloat64) float64 {
	var sumSq float64
	var n int
	for _, r := range rows {
		if v := col(r); v.Valid {
			d := v.Float64 - mean.Float64
			sumSq += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n))
}

func columnMean(rows []models.PanelRow, col func(models.PanelRow) sql.NullFloat64) sql.NullFloat64 {
	var sum float64
	var n int
	for _, r := range rows {
		if v := col(r); v.Valid {
			sum += v.Float64
			n++
		}
	}
	if n == 0 {
		return sql.NullFloat64{}
	}
	return valid(sum / float64(n))
}

// columnStd is the sample standard deviation over non-null values; fewer
// than two observations is undefined.
func columnStd(rows []models.PanelRow, col func(models.PanelRow) sql.NullFloat64, mean sql.NullFloat64) sql.NullFloat64 {
	if !mean.Valid {
		return sql.NullFloat64{}
	}
	var sumSq float64
	var n int
	for _, r := range rows {
		if v := col(r); v.Valid {
			d := v.Float64 - mean.Float64
			sumSq += d * d
			n++
		}
	}
	if n < 2 {
		return sql.NullFloat64{}
	}
	return valid(math.Sqrt(sumSq / float64(n-1)))
}

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orZero(v sql.NullFloat64) float64 {
	if v.Valid {
		return v.Float64
	}
	return 0
}
