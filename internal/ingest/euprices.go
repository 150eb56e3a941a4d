package ingest

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/panel"
	"github.com/lox/olivepanel/internal/schema"
)

// PriceUnit names the unit a price sheet quotes in.
type PriceUnit string

const (
	UnitPer100Kg PriceUnit = "per_100kg" // EU portal default
	UnitPerKg    PriceUnit = "per_kg"
	UnitPerL     PriceUnit = "per_l"
)

var euPriceColumns = []schema.Column{
	{Canonical: "date", Candidates: []string{"referencefrom", "reference_from", "date", "week_start"}},
	{Canonical: "year", Candidates: []string{"iso_year", "year"}},
	{Canonical: "week", Candidates: []string{"iso_week", "week"}},
	{Canonical: "country", Candidates: []string{"member_state", "memberstate", "country", "iso2"}},
	{Canonical: "market", Candidates: []string{"market", "market_name", "city"}},
	{Canonical: "grade", Candidates: []string{"category", "grade", "product", "quality"}},
	{Canonical: "price", Candidates: []string{"price", "avg_price", "value", "price_eur"}},
	{Canonical: "pack", Candidates: []string{"pack", "packaging", "container"}},
}

// gradeCanon folds the portal's category labels onto normalized grades.
// Labels not listed pass through NormalizeGrade unchanged.
var gradeCanon = map[string]string{
	"EXTRA VIRGIN OLIVE OIL":        "EVOO",
	"EXTRA VIRGIN":                  "EVOO",
	"VIRGIN OLIVE OIL":              "VOO",
	"VIRGIN":                        "VOO",
	"LAMPANTE OLIVE OIL":            "LAMPANTE",
	"LAMPANTE (2 DEGREES)":          "LAMPANTE",
	"REFINED OLIVE OIL":             "REFINED",
	"OLIVE OIL":                     "OO",
	"CRUDE OLIVE POMACE OIL":        "CPO",
	"OLIVE POMACE OIL":              "POMACE",
	"REFINED OLIVE-POMACE OIL":      "POMACE",
}

// CanonGrade maps a raw sheet category onto the normalized grade label.
func CanonGrade(raw string) string {
	norm := panel.NormalizeGrade(raw)
	if canon, ok := gradeCanon[norm]; ok {
		return canon
	}
	return norm
}

// ParseEUPrices standardizes the EU price portal sheet into spot price
// observations. Prices convert to EUR per litre from the configured unit
// (per 100 kg uses the oil density). Rows without identity fields survive;
// usability is decided downstream, not here.
func ParseEUPrices(r io.Reader, unit PriceUnit) ([]models.SpotPrice, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return nil, fmt.Errorf("eu prices: %w", err)
	}

	cols := schema.Resolve(header, euPriceColumns)
	contract := schema.Contract{Table: "eu_prices", Required: []string{"price"}}
	resolved := make([]string, 0, len(cols))
	for name := range cols {
		resolved = append(resolved, name)
	}
	if err := contract.Validate(resolved); err != nil {
		return nil, err
	}

	var rows []models.SpotPrice
	for _, rec := range records {
		raw, err := strconv.ParseFloat(field(rec, cols, "price"), 64)
		if err != nil {
			continue
		}

		sp := models.SpotPrice{
			Country:      strings.ToUpper(field(rec, cols, "country")),
			Market:       field(rec, cols, "market"),
			Grade:        CanonGrade(field(rec, cols, "grade")),
			Pack:         strings.ToLower(field(rec, cols, "pack")),
			PriceEurPerL: sql.NullFloat64{Float64: toEurPerLitre(raw, unit), Valid: true},
		}
		if d, ok := rowDate(rec, cols); ok {
			sp.Date = d
		}
		rows = append(rows, sp)
	}

	log.Printf("euprices: standardized %d of %d sheet rows", len(rows), len(records))
	return rows, nil
}

// toEurPerLitre converts a quoted price to EUR per litre. Mass units go
// through the oil density (kg per litre).
func toEurPerLitre(price float64, unit PriceUnit) float64 {
	switch unit {
	case UnitPerKg:
		return price * panel.Density
	case UnitPerL:
		return price
	default: // per 100 kg
		return price / 100 * panel.Density
	}
}
