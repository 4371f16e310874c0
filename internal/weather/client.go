package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/planetcast/internal/metrics"
	"github.com/l0p7/planetcast/internal/retry"
)

// ErrCountryNotFound matches every NotFoundError. It is itself classified as
// retry.ErrNotFound.
var ErrCountryNotFound = fmt.Errorf("country %w", retry.ErrNotFound)

// NotFoundError reports a 404 from the weather API for a country.
type NotFoundError struct {
	Country string
}

func (e *NotFoundError) Error() string {
	return "Country " + e.Country + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrCountryNotFound || target == retry.ErrNotFound
}

// Doer is the HTTP client surface the weather client needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client queries an OpenWeatherMap-compatible current weather endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    Doer
	metrics *metrics.Recorder
}

func NewClient(baseURL, apiKey string, doer Doer, rec *metrics.Recorder) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: doer, metrics: rec}
}

// Fetch issues GET <baseURL>/weather?q=<country>&appid=<key>&units=metric.
func (c *Client) Fetch(ctx context.Context, country string) (Report, error) {
	start := time.Now()
	report, err := c.fetch(ctx, country)
	outcome := metrics.AttemptSuccess
	switch {
	case errors.Is(err, retry.ErrNotFound):
		outcome = metrics.AttemptNotFound
	case err != nil:
		outcome = metrics.AttemptError
	}
	c.metrics.ObserveUpstreamAttempt("weather", outcome, time.Since(start))
	return report, err
}

func (c *Client) fetch(ctx context.Context, country string) (Report, error) {
	query := url.Values{}
	query.Set("q", country)
	query.Set("appid", c.apiKey)
	query.Set("units", "metric")
	endpoint := c.baseURL + "/weather?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Report{}, fmt.Errorf("weather: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The request URL carries the API key; keep it out of the error.
		return Report{}, fmt.Errorf("weather: request for %s: %w", country, unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Report{}, &NotFoundError{Country: country}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Report{}, fmt.Errorf("weather API responded with status: %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return Report{}, fmt.Errorf("weather: decode response: %w", err)
	}
	return report, nil
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
