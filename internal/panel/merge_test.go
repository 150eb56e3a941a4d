package panel

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/lox/olivepanel/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func spotRow(d time.Time, price float64) models.SpotPrice {
	return models.SpotPrice{
		Date:         d,
		Country:      "IT",
		Market:       "Milan",
		Grade:        "evoo",
		PriceEurPerL: nf(price),
	}
}

func TestMergeAttachesMacroAndTariff(t *testing.T) {
	spot := []models.SpotPrice{spotRow(date(2024, 1, 10), 4.0)} // Wed -> week of Jan 8
	grid := []models.MacroRow{{WeekStart: date(2024, 1, 8), UsdPerEur: nf(1.08), BrentUsdPerBbl: nf(78)}}
	tariffs := []models.TariffRecord{{HSPrefix: "1509", AdvalPct: 5, SpecificUsdPerKg: 0.1}}

	rows, err := Merge(spot, grid, tariffs, "2024-01-15")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}

	r := rows[0]
	if !r.WeekStart.Equal(date(2024, 1, 8)) {
		t.Errorf("WeekStart = %v, want Monday Jan 8", r.WeekStart)
	}
	if r.GradeNorm != "EVOO" {
		t.Errorf("GradeNorm = %q, want EVOO", r.GradeNorm)
	}
	if r.Iso2 != "IT" {
		t.Errorf("Iso2 = %q, want IT", r.Iso2)
	}
	if r.HSPrefix != "1509" {
		t.Errorf("HSPrefix = %q, want 1509", r.HSPrefix)
	}
	if !r.UsdPerEur.Valid || r.UsdPerEur.Float64 != 1.08 {
		t.Errorf("UsdPerEur = %+v, want 1.08", r.UsdPerEur)
	}
	if !r.AdvalPct.Valid || r.AdvalPct.Float64 != 5 {
		t.Errorf("AdvalPct = %+v, want 5", r.AdvalPct)
	}
	if r.SnapshotDate != "2024-01-15" {
		t.Errorf("SnapshotDate = %q", r.SnapshotDate)
	}
}

func TestMergeRetainsRowsWithoutMacro(t *testing.T) {
	// Spot observation in a week the grid never covers: row survives with
	// all-null macro columns.
	spot := []models.SpotPrice{spotRow(date(2019, 6, 5), 3.2)}
	grid := []models.MacroRow{{WeekStart: date(2024, 1, 8), UsdPerEur: nf(1.08)}}

	rows, err := Merge(spot, grid, nil, "2024-01-15")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].UsdPerEur.Valid {
		t.Errorf("UsdPerEur = %+v, want null", rows[0].UsdPerEur)
	}
	if rows[0].AdvalPct.Valid {
		t.Errorf("AdvalPct = %+v, want null with no tariff table", rows[0].AdvalPct)
	}
	if !rows[0].PriceEurPerL.Valid || rows[0].PriceEurPerL.Float64 != 3.2 {
		t.Errorf("PriceEurPerL = %+v, want 3.2 preserved", rows[0].PriceEurPerL)
	}
}

func TestMergeDuplicateTariffNoFanOut(t *testing.T) {
	spot := []models.SpotPrice{spotRow(date(2024, 1, 10), 4.0)}
	tariffs := []models.TariffRecord{
		{HSPrefix: "1509", AdvalPct: 5, SpecificUsdPerKg: 0.1},
		{HSPrefix: "1509", AdvalPct: 8, SpecificUsdPerKg: 0.2}, // duplicate, later wins
	}

	rows, err := Merge(spot, nil, tariffs, "2024-01-15")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1 (no fan-out)", len(rows))
	}
	if got := rows[0].AdvalPct; !got.Valid || got.Float64 != 8 {
		t.Errorf("AdvalPct = %+v, want keep-last 8", got)
	}
}

func TestMergeDuplicatePanelKeyFails(t *testing.T) {
	spot := []models.SpotPrice{
		spotRow(date(2024, 1, 8), 4.0),
		spotRow(date(2024, 1, 10), 4.1), // same ISO week, same entity
	}

	_, err := Merge(spot, nil, nil, "2024-01-15")
	if err == nil {
		t.Fatal("Merge = nil error, want duplicate key defect")
	}
	if !strings.Contains(err.Error(), "duplicate panel key") {
		t.Errorf("error = %v, want duplicate panel key", err)
	}
}

func TestMergeKeepsUnparsedDateRows(t *testing.T) {
	// Two rows whose dates never parsed share the same entity. Their zero
	// weeks are not a key collision; the usability filter drops them later.
	spot := []models.SpotPrice{
		spotRow(time.Time{}, 4.0),
		spotRow(time.Time{}, 4.1),
	}

	rows, err := Merge(spot, nil, nil, "2024-01-15")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if !r.WeekStart.IsZero() {
			t.Errorf("WeekStart = %v, want zero for unparsed date", r.WeekStart)
		}
	}
}

func TestMergeEmptySpotFails(t *testing.T) {
	if _, err := Merge(nil, nil, nil, "2024-01-15"); err == nil {
		t.Fatal("Merge(empty) = nil error, want failure")
	}
}

func TestMergeDefaultsPackToGlass(t *testing.T) {
	spot := []models.SpotPrice{spotRow(date(2024, 1, 10), 4.0)}
	rows, err := Merge(spot, nil, nil, "2024-01-15")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if rows[0].Pack != "glass" {
		t.Errorf("Pack = %q, want glass default", rows[0].Pack)
	}
}

func TestMergeUnknownGradeHasNoTariff(t *testing.T) {
	spot := []models.SpotPrice{{
		Date: date(2024, 1, 10), Country: "IT", Market: "Milan",
		Grade: "mystery", PriceEurPerL: nf(4.0),
	}}
	tariffs := []models.TariffRecord{{HSPrefix: "", AdvalPct: 99}}

	rows, err := Merge(spot, nil, tariffs, "2024-01-15")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if rows[0].HSPrefix != "" {
		t.Errorf("HSPrefix = %q, want empty for unknown grade", rows[0].HSPrefix)
	}
	if rows[0].AdvalPct.Valid {
		t.Errorf("AdvalPct = %+v, want null (empty prefix must not join)", rows[0].AdvalPct)
	}
}
