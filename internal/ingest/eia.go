package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lox/olivepanel/internal/calendar"
	"github.com/lox/olivepanel/internal/httputil"
	"github.com/lox/olivepanel/internal/metrics"
	"github.com/lox/olivepanel/internal/models"
)

const eiaBaseURL = "https://api.eia.gov/v2/seriesid"

// EIA series IDs for the energy indicators.
const (
	EIASeriesBrent  = "PET.RBRTE.D"
	EIASeriesDiesel = "PET.EMD_EPD2D_PTE_NUS_DPG.D"
)

type EIAClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewEIAClient(apiKey string) *EIAClient {
	return &EIAClient{
		apiKey:  apiKey,
		baseURL: eiaBaseURL,
		client:  httputil.NewClient(),
	}
}

type eiaResponse struct {
	Response struct {
		Data []eiaRow `json:"data"`
	} `json:"response"`
}

// eiaRow tolerates both response shapes the v2 API produces: daily series
// carry "period", some mirrors carry "date". Values arrive as numbers or
// numeric strings.
type eiaRow struct {
	Period string      `json:"period"`
	Date   string      `json:"date"`
	Value  json.Number `json:"value"`
}

// FetchSeries returns the dated observations for one EIA series. An empty
// data array is an empty series, not an error; rows with unparseable dates
// or values are dropped.
func (e *EIAClient) FetchSeries(seriesID string) ([]models.RawPoint, error) {
	q := url.Values{}
	q.Set("api_key", e.apiKey)

	start := time.Now()
	body, err := httputil.GetWithRetry(e.client, e.baseURL+"/"+url.PathEscape(seriesID)+"?"+q.Encode())
	metrics.APILatency.WithLabelValues("eia", seriesID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICallsTotal.WithLabelValues("eia", seriesID, "error").Inc()
		return nil, fmt.Errorf("eia %s: %w", seriesID, err)
	}
	metrics.APICallsTotal.WithLabelValues("eia", seriesID, "ok").Inc()

	var data eiaResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("eia %s: unmarshal: %w", seriesID, err)
	}

	points := make([]models.RawPoint, 0, len(data.Response.Data))
	for _, row := range data.Response.Data {
		raw := row.Period
		if raw == "" {
			raw = row.Date
		}
		d := calendar.ParseTimestamp(raw)
		if !d.Valid {
			continue
		}
		v, err := row.Value.Float64()
		if err != nil {
			continue
		}
		points = append(points, models.RawPoint{Date: d.Time, Value: v})
	}

	metrics.PointsIngested.WithLabelValues("eia", seriesID).Add(float64(len(points)))
	return points, nil
}
