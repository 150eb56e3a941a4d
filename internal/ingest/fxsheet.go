package ingest

import (
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/lox/olivepanel/internal/calendar"
	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/schema"
)

var fxColumns = []schema.Column{
	{Canonical: "usd_per_eur", Candidates: []string{"usd_per_eur", "eurusd", "eur_usd", "value", "rate"}},
	{Canonical: "usdeur", Candidates: []string{"usdeur"}},
	{Canonical: "date", Candidates: []string{"date", "week_start", "period"}},
}

// ParseFXSheet reads a local FX rate sheet used when the FRED feed is
// unavailable. A usdeur column is quoted EUR per USD and is inverted to the
// panel's USD-per-EUR convention; zero rates are dropped rather than
// divided through.
func ParseFXSheet(r io.Reader) ([]models.RawPoint, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return nil, fmt.Errorf("fx sheet: %w", err)
	}

	cols := schema.Resolve(header, fxColumns)
	_, direct := cols["usd_per_eur"]
	_, inverse := cols["usdeur"]
	if !direct && !inverse {
		return nil, fmt.Errorf("fx sheet: no rate column in header %v", header)
	}

	var points []models.RawPoint
	var flagged int
	for _, rec := range records {
		d := calendar.ParseTimestamp(field(rec, cols, "date"))
		if !d.Valid {
			continue
		}

		var rate float64
		if direct {
			rate, err = strconv.ParseFloat(field(rec, cols, "usd_per_eur"), 64)
		} else {
			var inv float64
			inv, err = strconv.ParseFloat(field(rec, cols, "usdeur"), 64)
			if err == nil && inv != 0 {
				rate = 1 / inv
			} else if err == nil {
				continue
			}
		}
		if err != nil {
			continue
		}
		if len(ValidateFXRate(rate)) > 0 {
			flagged++
		}
		points = append(points, models.RawPoint{Date: d.Time, Value: rate})
	}
	if flagged > 0 {
		log.Printf("fxsheet: %d of %d rates outside the plausible band", flagged, len(points))
	}
	return points, nil
}
