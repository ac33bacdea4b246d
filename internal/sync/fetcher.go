// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/metricbridge/metricbridge/internal/config"
	"github.com/metricbridge/metricbridge/internal/logging"
	"github.com/metricbridge/metricbridge/internal/metrics"
	"github.com/metricbridge/metricbridge/internal/models"
)

// maxRowsPerRequest is the page size used for runReport pagination. The
// Data API caps responses at 250k rows; a daily report over a year is at
// most 366 rows, so pagination exists only as a safety net.
const maxRowsPerRequest = 10000

// ga4DateFormat is the dimension value layout for the "date" dimension.
const ga4DateFormat = "20060102"

// Fetcher retrieves metric data for a single property from the external
// analytics API.
type Fetcher interface {
	// FetchDaily returns one row per day in the range. Days with no
	// traffic are simply absent from the result.
	FetchDaily(ctx context.Context, propertyID string, rng models.DateRange) ([]models.DailyMetrics, error)

	// FetchRealtime returns the current realtime snapshot for the property.
	FetchRealtime(ctx context.Context, propertyID string) (*models.RealtimeSnapshot, error)
}

// dailyMetricNames are the Data API metric names requested for daily
// reports, in the order they map onto models.DailyMetrics fields.
var dailyMetricNames = []string{
	"sessions",
	"activeUsers",
	"newUsers",
	"screenPageViews",
	"averageSessionDuration",
	"bounceRate",
}

// realtimeMetricNames are the metric names requested from the realtime
// endpoint.
var realtimeMetricNames = []string{
	"activeUsers",
	"screenPageViews",
}

// GA4Client is an HTTP client for the Google Analytics 4 Data API.
// It is the only component in the engine that talks to the network.
// Outbound requests are paced fleet-wide with a token bucket, separate
// from the per-property hourly budget enforced by the orchestrator.
type GA4Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	pacer       *rate.Limiter
	now         func() time.Time
}

// NewGA4Client creates a Data API client from configuration.
func NewGA4Client(cfg config.AnalyticsConfig) *GA4Client {
	return &GA4Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		accessToken: cfg.AccessToken,
		pacer:       rate.NewLimiter(rate.Limit(cfg.PacingPerSecond), cfg.PacingBurst),
		now:         time.Now,
	}
}

// runReportRequest is the request structure for the runReport API.
type runReportRequest struct {
	DateRanges []ga4DateRange `json:"dateRanges"`
	Dimensions []ga4Dimension `json:"dimensions"`
	Metrics    []ga4Metric    `json:"metrics"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

// runRealtimeRequest is the request structure for the runRealtimeReport
// API. Realtime reports take no date ranges.
type runRealtimeRequest struct {
	Metrics []ga4Metric `json:"metrics"`
}

type ga4DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type ga4Dimension struct {
	Name string `json:"name"`
}

type ga4Metric struct {
	Name string `json:"name"`
}

// runReportResponse is the response structure shared by runReport and
// runRealtimeReport.
type runReportResponse struct {
	Rows     []reportRow `json:"rows"`
	RowCount int         `json:"rowCount"`
}

type reportRow struct {
	DimensionValues []reportValue `json:"dimensionValues"`
	MetricValues    []reportValue `json:"metricValues"`
}

type reportValue struct {
	Value string `json:"value"`
}

// dimensionValue returns the i-th dimension value of the row, or "" when
// absent.
func (r reportRow) dimensionValue(i int) string {
	if i >= len(r.DimensionValues) {
		return ""
	}
	return r.DimensionValues[i].Value
}

// metricValues returns the row's metric values in request order.
func (r reportRow) metricValues() []string {
	out := make([]string, len(r.MetricValues))
	for i, v := range r.MetricValues {
		out[i] = v.Value
	}
	return out
}

// ga4ErrorResponse is the error envelope returned on non-200 responses.
type ga4ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// FetchDaily fetches the daily report for a property over the given range.
func (c *GA4Client) FetchDaily(ctx context.Context, propertyID string, rng models.DateRange) ([]models.DailyMetrics, error) {
	start := time.Now()
	defer metrics.ObserveFetch("report", start)

	var rows []models.DailyMetrics
	offset := 0
	for {
		req := runReportRequest{
			DateRanges: []ga4DateRange{{
				StartDate: rng.Start.Format("2006-01-02"),
				EndDate:   rng.End.Format("2006-01-02"),
			}},
			Dimensions: []ga4Dimension{{Name: "date"}},
			Metrics:    metricList(dailyMetricNames),
			Limit:      maxRowsPerRequest,
			Offset:     offset,
		}

		var resp runReportResponse
		url := fmt.Sprintf("%s/v1beta/properties/%s:runReport", c.endpoint, propertyID)
		if err := c.post(ctx, propertyID, url, req, &resp); err != nil {
			return nil, err
		}

		for _, row := range resp.Rows {
			dm, err := parseDailyRow(propertyID, row.dimensionValue(0), row.metricValues())
			if err != nil {
				logging.Warn().Err(err).Str("property", propertyID).Msg("Skipping malformed report row")
				continue
			}
			rows = append(rows, dm)
		}

		offset += maxRowsPerRequest
		if offset >= resp.RowCount || len(resp.Rows) == 0 {
			break
		}
	}

	logging.Debug().Str("property", propertyID).Int("rows", len(rows)).Dur("duration", time.Since(start)).Msg("Daily report fetched")
	return rows, nil
}

// FetchRealtime fetches the realtime snapshot for a property.
func (c *GA4Client) FetchRealtime(ctx context.Context, propertyID string) (*models.RealtimeSnapshot, error) {
	start := time.Now()
	defer metrics.ObserveFetch("realtime", start)

	req := runRealtimeRequest{Metrics: metricList(realtimeMetricNames)}

	var resp runReportResponse
	url := fmt.Sprintf("%s/v1beta/properties/%s:runRealtimeReport", c.endpoint, propertyID)
	if err := c.post(ctx, propertyID, url, req, &resp); err != nil {
		return nil, err
	}

	snapshot := &models.RealtimeSnapshot{
		PropertyID: propertyID,
		FetchedAt:  c.now().UTC(),
	}
	// A property with zero current traffic returns no rows; that is a
	// valid all-zero snapshot.
	if len(resp.Rows) > 0 {
		values := resp.Rows[0].metricValues()
		if len(values) >= 2 {
			snapshot.ActiveUsers = parseInt64(values[0])
			snapshot.Pageviews = parseInt64(values[1])
		}
	}
	return snapshot, nil
}

// post executes one paced, authenticated API request and decodes the
// response, translating failures into the engine's error taxonomy.
func (c *GA4Client) post(ctx context.Context, propertyID, url string, body, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.classifyHTTPError(propertyID, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classifyHTTPError maps a non-200 response onto the error taxonomy.
// Quota exhaustion arrives as 429 (with an optional Retry-After header)
// or as 403 with status RESOURCE_EXHAUSTED.
func (c *GA4Client) classifyHTTPError(propertyID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr ga4ErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &QuotaExceededError{
			PropertyID: propertyID,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusForbidden && apiErr.Error.Status == "RESOURCE_EXHAUSTED":
		return &QuotaExceededError{PropertyID: propertyID}
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, apiErr.Error.Message)}
	default:
		return &PermanentError{Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
}

// parseDailyRow converts one report row (date dimension + ordered metric
// values) into a DailyMetrics record.
func parseDailyRow(propertyID, dateValue string, values []string) (models.DailyMetrics, error) {
	day, err := time.ParseInLocation(ga4DateFormat, dateValue, time.UTC)
	if err != nil {
		return models.DailyMetrics{}, fmt.Errorf("parse date %q: %w", dateValue, err)
	}
	if len(values) < len(dailyMetricNames) {
		return models.DailyMetrics{}, fmt.Errorf("expected %d metric values, got %d", len(dailyMetricNames), len(values))
	}

	return models.DailyMetrics{
		PropertyID:         propertyID,
		Day:                day,
		Sessions:           parseInt64(values[0]),
		ActiveUsers:        parseInt64(values[1]),
		NewUsers:           parseInt64(values[2]),
		Pageviews:          parseInt64(values[3]),
		AvgSessionDuration: parseFloat(values[4]),
		BounceRate:         parseFloat(values[5]),
	}, nil
}

func metricList(names []string) []ga4Metric {
	out := make([]ga4Metric, len(names))
	for i, name := range names {
		out[i] = ga4Metric{Name: name}
	}
	return out
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseRetryAfter parses a Retry-After header given in seconds. Absent or
// malformed headers yield nil.
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}
