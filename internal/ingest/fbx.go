package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/olivepanel/internal/calendar"
	"github.com/lox/olivepanel/internal/metrics"
	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/schema"
)

// FBXClient retrieves the Freightos Baltic Index sheet from the provider's
// FTP drop.
type FBXClient struct {
	host string
	path string
	user string
	pass string
}

func NewFBXClient(host, path, user, pass string) *FBXClient {
	if user == "" {
		user = "anonymous"
		pass = "anonymous"
	}
	return &FBXClient{host: host, path: path, user: user, pass: pass}
}

func (c *FBXClient) FetchIndex() ([]models.RawPoint, error) {
	conn, err := ftp.Dial(c.host, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(c.user, c.pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(c.path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", c.path, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	points, err := ParseFBX(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	metrics.PointsIngested.WithLabelValues("fbx", "fbx_global").Add(float64(len(points)))
	return points, nil
}

var fbxColumns = []schema.Column{
	{Canonical: "value", Candidates: []string{"fbx_global", "fbx", "index", "fbx_index", "price", "value"}},
	{Canonical: "date", Candidates: []string{"date", "week_start", "period"}},
	{Canonical: "year", Candidates: []string{"iso_year", "year"}},
	{Canonical: "week", Candidates: []string{"iso_week", "week"}},
}

// ParseFBX reads the index sheet. Rows are dated either by a date column or
// by ISO year+week, resolved to the Monday of that week; rows with neither,
// or with an unparseable value, are dropped.
func ParseFBX(r io.Reader) ([]models.RawPoint, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return nil, fmt.Errorf("fbx: %w", err)
	}

	cols := schema.Resolve(header, fbxColumns)
	if _, ok := cols["value"]; !ok {
		return nil, fmt.Errorf("fbx: no index value column in header %v", header)
	}

	var points []models.RawPoint
	for _, rec := range records {
		v, err := strconv.ParseFloat(field(rec, cols, "value"), 64)
		if err != nil {
			continue
		}
		d, ok := rowDate(rec, cols)
		if !ok {
			continue
		}
		points = append(points, models.RawPoint{Date: d, Value: v})
	}
	return points, nil
}

// rowDate dates one sheet row: a parseable date column wins, otherwise ISO
// year+week resolves to that week's Monday.
func rowDate(rec []string, cols map[string]int) (time.Time, bool) {
	if raw := field(rec, cols, "date"); raw != "" {
		if t := calendar.ParseTimestamp(raw); t.Valid {
			return t.Time, true
		}
	}
	year, err1 := strconv.Atoi(field(rec, cols, "year"))
	week, err2 := strconv.Atoi(field(rec, cols, "week"))
	if err1 == nil && err2 == nil && week >= 1 && week <= 53 {
		return calendar.ISOWeekStart(year, week), true
	}
	return time.Time{}, false
}

// readCSV loads a sheet into memory with its header normalized.
func readCSV(r io.Reader) ([][]string, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty sheet")
	}
	return all[1:], schema.NormalizeHeader(all[0]), nil
}

// field returns a trimmed cell by canonical column name, or "" when the
// column is absent or the row is short.
func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
