package panel

import "math"

// Density converts specific tariff rates quoted per kilogram into per litre.
const Density = 0.916

// GradeToHS maps normalized grades onto the HS-4 prefix used for the tariff
// join. Virgin grades and refined blends fall under 1509, pomace oils under
// 1510. Unknown grades get no prefix and therefore no tariff match.
var GradeToHS = map[string]string{
	"EVOO":     "1509",
	"VOO":      "1509",
	"LAMPANTE": "1509",
	"REFINED":  "1509",
	"OO":       "1509",
	"POMACE":   "1510",
	"CPO":      "1510",
}

// dutyRule is one line of the per-grade duty policy table: how the
// ad-valorem and specific components combine for that grade.
type dutyRule struct {
	AdvalScale float64 // multiplier on the ad-valorem component
	Density    float64 // kg -> L conversion for the specific component
}

// dutyPolicy carries grade-specific overrides; grades not listed use
// defaultDutyRule. The table is policy data, not control flow: changing a
// grade's algebra means editing a row here.
var dutyPolicy = map[string]dutyRule{
	"POMACE": {AdvalScale: 1.0, Density: 0.912}, // pomace oil runs marginally denser
}

var defaultDutyRule = dutyRule{AdvalScale: 1.0, Density: Density}

// Duty is the grade-specific duty function: USD per litre of duty for a
// price already converted to USD. It is pure and NaN-safe: null (NaN)
// specific or ad-valorem inputs are treated as zero, and a NaN price
// propagates to a NaN result.
func Duty(priceUsdPerL float64, gradeNorm string, specificUsdPerKg, advalPct float64) float64 {
	if math.IsNaN(specificUsdPerKg) {
		specificUsdPerKg = 0
	}
	if math.IsNaN(advalPct) {
		advalPct = 0
	}

	rule, ok := dutyPolicy[gradeNorm]
	if !ok {
		rule = defaultDutyRule
	}

	return (advalPct/100.0)*priceUsdPerL*rule.AdvalScale + specificUsdPerKg*rule.Density
}
