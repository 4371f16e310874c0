package planet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/planetcast/internal/metrics"
)

// Doer is the HTTP client surface the SWAPI client needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client fetches planets from a SWAPI-compatible API.
type Client struct {
	baseURL string
	http    Doer
	metrics *metrics.Recorder
}

func NewClient(baseURL string, doer Doer, rec *metrics.Recorder) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer, metrics: rec}
}

// Fetch issues GET <baseURL>/planets/<id>/.
func (c *Client) Fetch(ctx context.Context, id int) (Planet, error) {
	start := time.Now()
	planet, outcome, err := c.fetch(ctx, id)
	c.metrics.ObserveUpstreamAttempt("planet", outcome, time.Since(start))
	return planet, err
}

func (c *Client) fetch(ctx context.Context, id int) (Planet, metrics.AttemptOutcome, error) {
	url := c.baseURL + "/planets/" + strconv.Itoa(id) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Planet{}, metrics.AttemptError, fmt.Errorf("planet: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Planet{}, metrics.AttemptError, fmt.Errorf("planet: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome := metrics.AttemptError
		if resp.StatusCode == http.StatusNotFound {
			outcome = metrics.AttemptNotFound
		}
		return Planet{}, outcome, fmt.Errorf("failed to fetch planet data: %d %s", resp.StatusCode, statusText(resp))
	}

	var planet Planet
	if err := json.NewDecoder(resp.Body).Decode(&planet); err != nil {
		return Planet{}, metrics.AttemptError, fmt.Errorf("planet: decode response: %w", err)
	}
	return planet, metrics.AttemptSuccess, nil
}

// statusText returns the reason phrase the server sent, falling back to the
// standard one.
func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
