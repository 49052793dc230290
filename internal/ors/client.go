// Package ors is a client for the OpenRouteService matrix endpoint.
package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/models"
)

const (
	DefaultBaseURL = "https://api.openrouteservice.org/v2/matrix/driving-car"

	// maxErrorBody caps how much of a failed response is kept for the error
	maxErrorBody = 2048
)

// Client issues matrix requests. It performs a single attempt per call;
// retrying is the caller's job.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client with a per-request timeout
func NewClient(apiKey, baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "ors").Logger(),
	}
}

// HasAPIKey returns true if the client has an API key configured
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// Name identifies the provider in snapshots and logs
func (c *Client) Name() string {
	return "ors"
}

// Matrix requests distances and durations from the request's sources to its
// destinations. An empty source or destination list means all locations.
func (c *Client) Matrix(ctx context.Context, req models.MatrixRequest) (models.MatrixResponse, error) {
	if c.apiKey == "" {
		return models.MatrixResponse{}, fmt.Errorf("ORS_API_KEY not configured")
	}

	body, err := json.Marshal(newMatrixBody(req))
	if err != nil {
		return models.MatrixResponse{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return models.MatrixResponse{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		// cancellation by the caller is not a service failure
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return models.MatrixResponse{}, ctxErr
		}
		return models.MatrixResponse{}, &TransientError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("sources", sourceCount(req)).
		Dur("elapsed", time.Since(start)).
		Msg("Matrix response")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return models.MatrixResponse{}, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.MatrixResponse{}, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	var result matrixResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.MatrixResponse{}, &TransientError{Reason: "parsing response", Err: err}
	}
	return result.toResponse(sourceCount(req), destinationCount(req))
}

// matrixBody is the JSON payload of a matrix request
type matrixBody struct {
	Locations    [][2]float64 `json:"locations"`
	Sources      []int        `json:"sources,omitempty"`
	Destinations []int        `json:"destinations,omitempty"`
	Metrics      []string     `json:"metrics"`
	Units        string       `json:"units"`
}

func newMatrixBody(req models.MatrixRequest) matrixBody {
	locations := make([][2]float64, len(req.Locations))
	for i, c := range req.Locations {
		locations[i] = [2]float64(c)
	}
	return matrixBody{
		Locations:    locations,
		Sources:      req.Sources,
		Destinations: req.Destinations,
		Metrics:      []string{"distance", "duration"},
		Units:        "m",
	}
}

// matrixResult uses pointers so unroutable pairs (null) are detectable
type matrixResult struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (r matrixResult) toResponse(rows, cols int) (models.MatrixResponse, error) {
	distances, err := denseBlock("distances", r.Distances, rows, cols)
	if err != nil {
		return models.MatrixResponse{}, err
	}
	durations, err := denseBlock("durations", r.Durations, rows, cols)
	if err != nil {
		return models.MatrixResponse{}, err
	}
	return models.MatrixResponse{Distances: distances, Durations: durations}, nil
}

func denseBlock(name string, block [][]*float64, rows, cols int) ([][]float64, error) {
	if len(block) != rows {
		return nil, &TransientError{Reason: fmt.Sprintf("%s has %d rows, want %d", name, len(block), rows)}
	}
	out := make([][]float64, rows)
	for i, row := range block {
		if len(row) != cols {
			return nil, &TransientError{Reason: fmt.Sprintf("%s row %d has %d columns, want %d", name, i, len(row), cols)}
		}
		out[i] = make([]float64, cols)
		for j, v := range row {
			if v == nil {
				return nil, &TransientError{Reason: fmt.Sprintf("%s[%d][%d] is null", name, i, j)}
			}
			out[i][j] = *v
		}
	}
	return out, nil
}

func sourceCount(req models.MatrixRequest) int {
	if len(req.Sources) > 0 {
		return len(req.Sources)
	}
	return len(req.Locations)
}

func destinationCount(req models.MatrixRequest) int {
	if len(req.Destinations) > 0 {
		return len(req.Destinations)
	}
	return len(req.Locations)
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
