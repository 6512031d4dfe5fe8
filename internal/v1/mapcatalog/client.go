// Package mapcatalog talks to the external map catalogue that supplies race
// maps for random-by-mode search and mappack retrieval.
package mapcatalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// ErrNotFound is returned when a mappack lookup decodes to nothing, which the
// catalogue uses to mean "not found or hidden".
var ErrNotFound = errors.New("mapcatalog: mappack not found or hidden")

// Client fetches maps from the external catalogue over HTTP, guarded by a
// circuit breaker so catalogue outages degrade to fast, typed failures
// rather than hanging the map prefetcher's worker.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	cb        *gobreaker.CircuitBreaker
}

// NewClient creates a map catalogue client.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	st := gobreaker.Settings{
		Name:        "mapcatalog",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("mapcatalog").Set(stateVal)
		},
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
		cb:        gobreaker.NewCircuitBreaker(st),
	}
}

// mapsResponse mirrors the catalogue's list payload for both endpoints.
type mapsResponse struct {
	Maps []types.MapRecord `json:"maps"`
}

// SearchRandomByMode fetches up to count randomly-selected maps for an
// automatic selection mode (TOTD or RandomTMX).
func (c *Client) SearchRandomByMode(ctx context.Context, mode types.SelectionMode, count int) ([]types.MapRecord, error) {
	modeParam, err := modeQueryValue(mode)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"mode":  {modeParam},
		"count": {strconv.Itoa(count)},
	}

	start := time.Now()
	maps, err := c.get(ctx, "/maps/random", query)
	metrics.MapFetchDuration.WithLabelValues(modeParam, fetchStatus(err)).Observe(time.Since(start).Seconds())
	return maps, err
}

// MappackTracks fetches every map belonging to a mappack.
func (c *Client) MappackTracks(ctx context.Context, mappackID string) ([]types.MapRecord, error) {
	query := url.Values{"mappack_id": {mappackID}}

	start := time.Now()
	maps, err := c.get(ctx, "/mappacks/tracks", query)
	metrics.MapFetchDuration.WithLabelValues("mappack", fetchStatus(err)).Observe(time.Since(start).Seconds())

	if err == nil && len(maps) == 0 {
		return nil, ErrNotFound
	}

	return maps, err
}

func fetchStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func modeQueryValue(mode types.SelectionMode) (string, error) {
	switch mode {
	case types.SelectionTOTD:
		return "totd", nil
	case types.SelectionRandomTMX:
		return "random_tmx", nil
	default:
		return "", fmt.Errorf("mapcatalog: mode %d has no random-search endpoint", mode)
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]types.MapRecord, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.doGet(ctx, path, query)
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("mapcatalog").Inc()
		}
		return nil, err
	}

	return result.([]types.MapRecord), nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values) ([]types.MapRecord, error) {
	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build mapcatalog request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapcatalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapcatalog returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read mapcatalog response: %w", err)
	}

	var parsed mapsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode mapcatalog response: %w", err)
	}

	return parsed.Maps, nil
}
