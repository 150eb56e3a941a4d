package models

import (
	"database/sql"
	"time"
)

// RawPoint is the provider contract for every macro source: one dated
// observation. Dates are UTC; sub-day precision is ignored downstream.
type RawPoint struct {
	Date  time.Time
	Value float64
}

// WeeklyPoint is one aligned observation of a macro series. WeekStart is
// always the Monday 00:00 UTC of an ISO week, and a series carries at most
// one point per week.
type WeeklyPoint struct {
	WeekStart time.Time
	Value     float64
}

// MacroRow is one week of the macro grid: every named indicator outer-joined
// on week_start. After grid construction the grid is contiguous Monday to
// Monday with all columns forward-filled; gaps before a series' first
// observation stay null.
type MacroRow struct {
	WeekStart         time.Time
	UsdPerEur         sql.NullFloat64
	BrentUsdPerBbl    sql.NullFloat64
	DieselUsdPerGal   sql.NullFloat64
	PPIGlass          sql.NullFloat64
	PPIPlasticBottles sql.NullFloat64
	PPISteel          sql.NullFloat64
	OceanProxy        sql.NullFloat64
}

// TariffRecord is one normalized tariff schedule line, keyed by the HS-4
// prefix. Duplicate prefixes are resolved keep-last before any merge.
type TariffRecord struct {
	HSPrefix         string
	AdvalPct         float64
	SpecificUsdPerKg float64
}

// SpotPrice is one raw market price observation from the EU price sheet.
// A zero Date means the source date did not parse.
type SpotPrice struct {
	Date         time.Time
	Country      string
	Market       string
	Grade        string
	Pack         string
	PriceEurPerL sql.NullFloat64
}

// PanelRow is one observation of the weekly panel, primary key
// (WeekStart, Country, Market, Grade). String identity fields use "" for
// null; a zero WeekStart means the spot date never parsed.
type PanelRow struct {
	WeekStart    time.Time
	SnapshotDate string
	Country      string
	Iso2         string
	Market       string
	Grade        string
	GradeNorm    string
	HSPrefix     string
	Pack         string

	PriceEurPerL sql.NullFloat64
	PriceUsdPerL sql.NullFloat64
	BaseUsdPerL  sql.NullFloat64
	UsdPerEur    sql.NullFloat64

	AdvalPct            sql.NullFloat64
	DutyRate            sql.NullFloat64
	SpecificUsdPerKg    sql.NullFloat64
	DutySpecificUsdPerL sql.NullFloat64
	DutyCost            sql.NullFloat64
	DutyUsdPerL         sql.NullFloat64

	BrentUsdPerBbl    sql.NullFloat64
	OceanProxy        sql.NullFloat64
	OceanIdx          sql.NullFloat64
	OceanUplift       sql.NullFloat64
	DieselUsdPerGal   sql.NullFloat64
	DieselUplift      sql.NullFloat64
	PackCost          sql.NullFloat64
	PPIGlass          sql.NullFloat64
	PPIPlasticBottles sql.NullFloat64
	PPISteel          sql.NullFloat64

	DelivHatUsdPerL sql.NullFloat64
	ZBase           sql.NullFloat64
}

// EntityKey identifies one (country, market, grade) series in the panel.
type EntityKey struct {
	Country   string
	Market    string
	GradeNorm string
}

// Entity returns the row's partition key for feature building.
func (r PanelRow) Entity() EntityKey {
	return EntityKey{Country: r.Country, Market: r.Market, GradeNorm: r.GradeNorm}
}

// FeatureRow is one row of the feature table: the usable panel row plus
// lag, rolling and calendar features. Feature rows are derived output only;
// every run regenerates them from the current panel snapshot.
type FeatureRow struct {
	PanelRow

	Lag1Week     sql.NullFloat64
	Lag2Week     sql.NullFloat64
	Rolling3     sql.NullFloat64
	Rolling10    sql.NullFloat64
	Month        int
	DayOfWeek    int
	Quarter      int
	SinWeek      float64
	CostPressure float64
}

// IngestRun records one fetch attempt against an external source, for
// operational bookkeeping.
type IngestRun struct {
	ID             int64
	Source         string
	Series         string
	StartedAt      time.Time
	CompletedAt    sql.NullTime
	Success        bool
	HTTPStatus     sql.NullInt64
	RecordsFetched sql.NullInt64
	RecordsParsed  sql.NullInt64
	RecordsStored  sql.NullInt64
	ErrorMessage   sql.NullString
}
