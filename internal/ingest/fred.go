package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/olivepanel/internal/httputil"
	"github.com/lox/olivepanel/internal/metrics"
	"github.com/lox/olivepanel/internal/models"
)

const fredBaseURL = "https://api.stlouisfed.org/fred/series/observations"

// FRED series IDs for the macro indicators.
const (
	FredSeriesFX         = "DEXUSEU"   // USD per EUR spot rate
	FredSeriesPPIGlass   = "WPU101706" // PPI glass containers
	FredSeriesPPIPlastic = "WPU0721"   // PPI plastic bottles
	FredSeriesPPISteel   = "WPU101702" // PPI steel mill products
)

type FredClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewFredClient(apiKey string) *FredClient {
	return &FredClient{
		apiKey:  apiKey,
		baseURL: fredBaseURL,
		client:  httputil.NewClient(),
	}
}

type fredResponse struct {
	Observations []fredObservation `json:"observations"`
}

type fredObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// FetchSeries returns the dated observations for one FRED series. FRED
// reports missing values as "."; those and any other unparseable values are
// dropped, not errors.
func (f *FredClient) FetchSeries(seriesID string) ([]models.RawPoint, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", f.apiKey)
	q.Set("file_type", "json")

	start := time.Now()
	body, err := httputil.GetWithRetry(f.client, f.baseURL+"?"+q.Encode())
	metrics.APILatency.WithLabelValues("fred", seriesID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICallsTotal.WithLabelValues("fred", seriesID, "error").Inc()
		return nil, fmt.Errorf("fred %s: %w", seriesID, err)
	}
	metrics.APICallsTotal.WithLabelValues("fred", seriesID, "ok").Inc()

	var data fredResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("fred %s: unmarshal: %w", seriesID, err)
	}

	points := make([]models.RawPoint, 0, len(data.Observations))
	for _, obs := range data.Observations {
		raw := strings.TrimSpace(obs.Value)
		if raw == "" || raw == "." {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		d, err := time.Parse("2006-01-02", obs.Date)
		if err != nil {
			continue
		}
		points = append(points, models.RawPoint{Date: d.UTC(), Value: v})
	}

	metrics.PointsIngested.WithLabelValues("fred", seriesID).Add(float64(len(points)))
	return points, nil
}
