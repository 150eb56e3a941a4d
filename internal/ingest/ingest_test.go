package ingest

import (
	"database/sql"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/olivepanel/internal/httputil"
	"github.com/lox/olivepanel/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFredFetchSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("series_id"); got != "DEXUSEU" {
			t.Errorf("series_id = %q", got)
		}
		w.Write([]byte(`{"observations":[
			{"date":"2024-01-02","value":"1.0937"},
			{"date":"2024-01-03","value":"."},
			{"date":"2024-01-04","value":"not a number"},
			{"date":"2024-01-05","value":"1.0921"}
		]}`))
	}))
	defer srv.Close()

	c := NewFredClient("test-key")
	c.baseURL = srv.URL
	points, err := c.FetchSeries("DEXUSEU")
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}

	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2 (missing markers dropped)", len(points))
	}
	if !points[0].Date.Equal(date(2024, 1, 2)) || points[0].Value != 1.0937 {
		t.Errorf("points[0] = %+v", points[0])
	}
	if points[1].Value != 1.0921 {
		t.Errorf("points[1] = %+v", points[1])
	}
}

func TestFredPermanentErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad api key", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewFredClient("bad-key")
	c.baseURL = srv.URL
	if _, err := c.FetchSeries("DEXUSEU"); err == nil {
		t.Fatal("FetchSeries = nil error, want failure")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx is permanent)", calls)
	}
}

func TestEIAFetchSeriesShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{
			"period shape",
			`{"response":{"data":[{"period":"2024-01-02","value":78.4},{"period":"2024-01-03","value":"79.1"}]}}`,
			2,
		},
		{
			"date shape",
			`{"response":{"data":[{"date":"2024-01-02","value":3.85}]}}`,
			1,
		},
		{
			"empty data is empty series",
			`{"response":{"data":[]}}`,
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewEIAClient("test-key")
			c.baseURL = srv.URL
			points, err := c.FetchSeries("PET.RBRTE.D")
			if err != nil {
				t.Fatalf("FetchSeries: %v", err)
			}
			if len(points) != tt.want {
				t.Errorf("len(points) = %d, want %d", len(points), tt.want)
			}
		})
	}
}

func TestGetWithRetryRecoversFromServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flake", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := httputil.GetWithRetry(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("GetWithRetry: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestParseFBX(t *testing.T) {
	csv := strings.Join([]string{
		"Date,FBX_Global",
		"2024-01-03,1450.5",
		"2024-01-10,not a number",
		"2024-01-17,1502.0",
	}, "\n")

	points, err := ParseFBX(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseFBX: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}
	if points[0].Value != 1450.5 || !points[0].Date.Equal(date(2024, 1, 3)) {
		t.Errorf("points[0] = %+v", points[0])
	}
}

func TestParseFBXISOWeekColumns(t *testing.T) {
	csv := strings.Join([]string{
		"year,week,index",
		"2024,2,1450.5",
	}, "\n")

	points, err := ParseFBX(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseFBX: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}
	// 2024 week 2 starts Monday January 8
	if !points[0].Date.Equal(date(2024, 1, 8)) {
		t.Errorf("Date = %v, want 2024-01-08", points[0].Date)
	}
}

func TestParseFBXMissingValueColumn(t *testing.T) {
	if _, err := ParseFBX(strings.NewReader("date,foo\n2024-01-03,1\n")); err == nil {
		t.Fatal("ParseFBX = nil error, want missing value column")
	}
}

func TestParseFXSheetReciprocal(t *testing.T) {
	csv := strings.Join([]string{
		"date,usdeur",
		"2024-01-02,0.92",
		"2024-01-03,0",
	}, "\n")

	points, err := ParseFXSheet(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseFXSheet: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1 (zero rate dropped)", len(points))
	}
	if math.Abs(points[0].Value-1/0.92) > 1e-9 {
		t.Errorf("Value = %v, want %v", points[0].Value, 1/0.92)
	}
}

func TestParseFXSheetDirect(t *testing.T) {
	points, err := ParseFXSheet(strings.NewReader("date,usd_per_eur\n2024-01-02,1.0937\n"))
	if err != nil {
		t.Fatalf("ParseFXSheet: %v", err)
	}
	if len(points) != 1 || points[0].Value != 1.0937 {
		t.Errorf("points = %+v", points)
	}
}

func TestParseFXSheetKeepsFlaggedRates(t *testing.T) {
	// An out-of-band rate is flagged for the QA log but never dropped.
	csv := strings.Join([]string{
		"date,usd_per_eur",
		"2024-01-02,1.09",
		"2024-01-03,3.50",
	}, "\n")

	points, err := ParseFXSheet(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseFXSheet: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2 (flagged rate kept)", len(points))
	}
	if points[1].Value != 3.50 {
		t.Errorf("Value = %v, want 3.50", points[1].Value)
	}
}

func TestParseEUPrices(t *testing.T) {
	csv := strings.Join([]string{
		"Member State,Market,Category,ReferenceFrom,Price",
		"IT,Milan,Extra virgin olive oil,2024-01-10,850",
		"ES,Jaen,Lampante olive oil,2024-01-10,620",
	}, "\n")

	rows, err := ParseEUPrices(strings.NewReader(csv), UnitPer100Kg)
	if err != nil {
		t.Fatalf("ParseEUPrices: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	r := rows[0]
	if r.Country != "IT" || r.Market != "Milan" {
		t.Errorf("identity = %q %q", r.Country, r.Market)
	}
	if r.Grade != "EVOO" {
		t.Errorf("Grade = %q, want EVOO", r.Grade)
	}
	// 850 EUR per 100kg at density 0.916 kg/L
	want := 850.0 / 100 * 0.916
	if !r.PriceEurPerL.Valid || math.Abs(r.PriceEurPerL.Float64-want) > 1e-9 {
		t.Errorf("PriceEurPerL = %+v, want %v", r.PriceEurPerL, want)
	}
	if !r.Date.Equal(date(2024, 1, 10)) {
		t.Errorf("Date = %v", r.Date)
	}
	if rows[1].Grade != "LAMPANTE" {
		t.Errorf("Grade = %q, want LAMPANTE", rows[1].Grade)
	}
}

func TestParseEUPricesPerLitreUnit(t *testing.T) {
	rows, err := ParseEUPrices(strings.NewReader("country,market,grade,date,price\nIT,Milan,EVOO,2024-01-10,4.25\n"), UnitPerL)
	if err != nil {
		t.Fatalf("ParseEUPrices: %v", err)
	}
	if rows[0].PriceEurPerL.Float64 != 4.25 {
		t.Errorf("PriceEurPerL = %+v, want unconverted 4.25", rows[0].PriceEurPerL)
	}
}

func TestParseEUPricesMissingPriceColumn(t *testing.T) {
	if _, err := ParseEUPrices(strings.NewReader("country,market\nIT,Milan\n"), UnitPer100Kg); err == nil {
		t.Fatal("ParseEUPrices = nil error, want missing price column")
	}
}

func TestParseTariffs(t *testing.T) {
	csv := strings.Join([]string{
		"HTS8,adval_pct,specific_usd_per_kg",
		"15091020,5.0,0.34",
		"15099010,,",
		"15091040,8.0,0.43",
		"15100020,0,0.1",
	}, "\n")

	out, err := ParseTariffs(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseTariffs: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 prefixes", len(out))
	}

	// keep-last within 1509: the 15091040 line wins
	if out[0].HSPrefix != "1509" || out[0].AdvalPct != 8.0 {
		t.Errorf("out[0] = %+v, want keep-last 1509 adval 8", out[0])
	}
	if out[1].HSPrefix != "1510" || out[1].SpecificUsdPerKg != 0.1 {
		t.Errorf("out[1] = %+v", out[1])
	}
}

func TestParseTariffsEmptyFatal(t *testing.T) {
	if _, err := ParseTariffs(strings.NewReader("hts8,adval\nabc,5\n")); err == nil {
		t.Fatal("ParseTariffs = nil error, want empty output fatal")
	}
}

func TestValidateSpotPrice(t *testing.T) {
	tests := []struct {
		name      string
		sp        models.SpotPrice
		wantFlags []string
	}{
		{
			name: "clean row",
			sp: models.SpotPrice{
				Date: date(2024, 1, 10), Grade: "EVOO",
				PriceEurPerL: sql.NullFloat64{Float64: 4.2, Valid: true},
			},
			wantFlags: nil,
		},
		{
			name: "non-positive price",
			sp: models.SpotPrice{
				Date: date(2024, 1, 10), Grade: "EVOO",
				PriceEurPerL: sql.NullFloat64{Float64: -1, Valid: true},
			},
			wantFlags: []string{FlagPriceNonPositive},
		},
		{
			name: "implausible price",
			sp: models.SpotPrice{
				Date: date(2024, 1, 10), Grade: "EVOO",
				PriceEurPerL: sql.NullFloat64{Float64: 120, Valid: true},
			},
			wantFlags: []string{FlagPriceUnlikely},
		},
		{
			name:      "missing date and unknown grade",
			sp:        models.SpotPrice{Grade: "mystery"},
			wantFlags: []string{FlagDateMissing, FlagGradeUnknown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateSpotPrice(&tt.sp)
			if len(got) != len(tt.wantFlags) {
				t.Fatalf("flags = %v, want %v", got, tt.wantFlags)
			}
			for i := range got {
				if got[i] != tt.wantFlags[i] {
					t.Errorf("flags = %v, want %v", got, tt.wantFlags)
				}
			}
		})
	}
}

func TestValidateFXRate(t *testing.T) {
	tests := []struct {
		rate string
		v    float64
		want bool
	}{
		{"typical", 1.09, false},
		{"lower bound", 0.5, false},
		{"upper bound", 2.0, false},
		{"too low", 0.4, true},
		{"too high", 2.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			flags := ValidateFXRate(tt.v)
			if got := len(flags) > 0; got != tt.want {
				t.Errorf("ValidateFXRate(%v) flags = %v, want flagged=%v", tt.v, flags, tt.want)
			}
			if tt.want && flags[0] != FlagFXOutOfRange {
				t.Errorf("flag = %q, want %q", flags[0], FlagFXOutOfRange)
			}
		})
	}
}

func TestQualityFlagsToJSON(t *testing.T) {
	if got := QualityFlagsToJSON(nil); got != "" {
		t.Errorf("QualityFlagsToJSON(nil) = %q, want empty", got)
	}
	got := QualityFlagsToJSON([]string{FlagDateMissing, FlagPriceUnlikely})
	want := `["date_missing","price_unlikely"]`
	if got != want {
		t.Errorf("QualityFlagsToJSON = %q, want %q", got, want)
	}
}

func TestCanonGrade(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Extra virgin olive oil", "EVOO"},
		{"VIRGIN OLIVE OIL", "VOO"},
		{"lampante olive oil", "LAMPANTE"},
		{"  evoo  ", "EVOO"},
		{"something else", "SOMETHING ELSE"},
	}
	for _, tt := range tests {
		if got := CanonGrade(tt.raw); got != tt.want {
			t.Errorf("CanonGrade(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
