package ingest

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/schema"
)

var tariffColumns = []schema.Column{
	{Canonical: "hs", Candidates: []string{"hts8", "hs4", "hs_code", "hs_prefix", "hscode"}},
	{Canonical: "adval", Candidates: []string{"adval_pct", "ad_valorem", "adval", "mfn_ad_val_rate"}},
	{Canonical: "specific", Candidates: []string{"specific_usd_per_kg", "specific", "mfn_specific_rate"}},
}

// ParseTariffs standardizes a tariff schedule sheet. HS codes reduce to
// their first four digits; null rate cells coalesce to zero; duplicate
// prefixes resolve keep-last. An empty result is fatal because the duty
// columns would silently vanish downstream.
func ParseTariffs(r io.Reader) ([]models.TariffRecord, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return nil, fmt.Errorf("tariffs: %w", err)
	}

	cols := schema.Resolve(header, tariffColumns)
	if _, ok := cols["hs"]; !ok {
		return nil, fmt.Errorf("tariffs: no HS code column in header %v", header)
	}

	var out []models.TariffRecord
	for _, rec := range records {
		prefix := hsPrefix(field(rec, cols, "hs"))
		if prefix == "" {
			continue
		}
		out = append(out, models.TariffRecord{
			HSPrefix:         prefix,
			AdvalPct:         rateOrZero(field(rec, cols, "adval")),
			SpecificUsdPerKg: rateOrZero(field(rec, cols, "specific")),
		})
	}

	out = dedupeKeepLast(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("tariffs: no usable rows in %d records", len(records))
	}

	log.Printf("tariffs: standardized %d schedule lines", len(out))
	return out, nil
}

// hsPrefix keeps only digits and slices the first four, so "1509.10.20"
// and "15091020" both become "1509".
func hsPrefix(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 4 {
		return ""
	}
	return digits[:4]
}

func rateOrZero(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

// dedupeKeepLast collapses duplicate HS prefixes, later rows winning, and
// returns the records sorted by prefix.
func dedupeKeepLast(records []models.TariffRecord) []models.TariffRecord {
	byPrefix := make(map[string]models.TariffRecord, len(records))
	for _, t := range records {
		byPrefix[t.HSPrefix] = t
	}

	out := make([]models.TariffRecord, 0, len(byPrefix))
	for _, t := range byPrefix {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HSPrefix < out[j].HSPrefix })
	return out
}
