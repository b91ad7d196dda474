// Package backend talks to the external simulation service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"train-simulator/internal/schedule"
)

// Window is the clock range and step a remote run covers.
type Window struct {
	Start       string `json:"start_time"`
	End         string `json:"end_time"`
	StepSeconds int    `json:"time_step"`
}

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("backend %s returned status %d: %s", e.Op, e.Code, e.Body)
}

// Client is an HTTP JSON client for the simulation backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client. timeout bounds every request, including reading the body.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Health succeeds when the backend answers GET /health with 2xx.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "health", nil, nil)
}

// Create registers the schedules and returns the backend's simulation id.
func (c *Client) Create(ctx context.Context, trains []schedule.Train) (string, error) {
	records := make([]schedule.Record, 0, len(trains))
	for _, t := range trains {
		records = append(records, schedule.RecordOf(t))
	}
	var out struct {
		SimulationID string `json:"simulation_id"`
	}
	req := map[string]any{"trains": records}
	if err := c.do(ctx, http.MethodPost, "/simulations", "create", req, &out); err != nil {
		return "", err
	}
	if out.SimulationID == "" {
		return "", fmt.Errorf("backend create returned no simulation_id")
	}
	return out.SimulationID, nil
}

// Run executes the simulation over the window and returns its frames as sent.
func (c *Client) Run(ctx context.Context, id string, w Window) ([]schedule.Frame, error) {
	var out struct {
		Frames []schedule.Frame `json:"frames"`
	}
	path := "/simulations/" + url.PathEscape(id) + "/run"
	if err := c.do(ctx, http.MethodPost, path, "run", w, &out); err != nil {
		return nil, err
	}
	return out.Frames, nil
}

// State fetches every train's sample at the given clock time.
func (c *Client) State(ctx context.Context, id, clock string) ([]schedule.Sample, error) {
	var out struct {
		Trains []schedule.Sample `json:"trains"`
	}
	path := "/simulations/" + url.PathEscape(id) + "/state?time=" + url.QueryEscape(clock)
	if err := c.do(ctx, http.MethodGet, path, "state", nil, &out); err != nil {
		return nil, err
	}
	return out.Trains, nil
}

func (c *Client) do(ctx context.Context, method, path, op string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
