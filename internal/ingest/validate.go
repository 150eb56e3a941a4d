package ingest

import (
	"encoding/json"

	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/panel"
)

const (
	FlagPriceNonPositive = "price_non_positive"
	FlagPriceUnlikely    = "price_unlikely"
	FlagDateMissing      = "date_missing"
	FlagGradeUnknown     = "grade_unknown"
	FlagFXOutOfRange     = "fx_out_of_range"
)

// ValidateSpotPrice flags implausible spot price rows for the QA summary.
// Flags never drop a row; usability is decided downstream.
func ValidateSpotPrice(sp *models.SpotPrice) []string {
	var flags []string

	if sp.PriceEurPerL.Valid {
		if sp.PriceEurPerL.Float64 <= 0 {
			flags = append(flags, FlagPriceNonPositive)
		} else if sp.PriceEurPerL.Float64 > 50 {
			flags = append(flags, FlagPriceUnlikely)
		}
	}

	if sp.Date.IsZero() {
		flags = append(flags, FlagDateMissing)
	}

	if sp.Grade != "" {
		if _, ok := panel.GradeToHS[panel.NormalizeGrade(sp.Grade)]; !ok {
			flags = append(flags, FlagGradeUnknown)
		}
	}

	return flags
}

// ValidateFXRate flags rates outside the historically observed EUR/USD band.
func ValidateFXRate(rate float64) []string {
	if rate < 0.5 || rate > 2.0 {
		return []string{FlagFXOutOfRange}
	}
	return nil
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
