package deallinesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dealline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// StageStatus is a lead's resolved pipeline position.
type StageStatus struct {
	LeadID       string `json:"lead_id"`
	CurrentStage string `json:"current_stage"`
	CoarseStage  string `json:"coarse_stage"`
	CanProgress  bool   `json:"can_progress"`
}

// Window selects the analytics date range. All fields are optional;
// the server defaults to the current calendar month.
type Window struct {
	Period            string
	StartDate         string
	EndDate           string
	OwnerID           string
	EmployeeBreakdown bool
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// LeadStage resolves a lead's current stage.
func (c *Client) LeadStage(ctx context.Context, leadID string) (StageStatus, error) {
	var resp StageStatus
	endpoint := fmt.Sprintf("v1/leads/%s/stage", url.PathEscape(leadID))
	err := c.get(ctx, endpoint, &resp)
	return resp, err
}

// Funnel fetches the funnel report as a raw JSON map; callers pick out
// the sections they need.
func (c *Client) Funnel(ctx context.Context, w Window) (map[string]any, error) {
	return c.report(ctx, "funnel", w)
}

// Bottlenecks fetches the bottleneck report.
func (c *Client) Bottlenecks(ctx context.Context, w Window) (map[string]any, error) {
	return c.report(ctx, "bottlenecks", w)
}

// Forecast fetches the weighted revenue forecast.
func (c *Client) Forecast(ctx context.Context, w Window) (map[string]any, error) {
	return c.report(ctx, "forecast", w)
}

// TimeInStage fetches the stage dwell-time report.
func (c *Client) TimeInStage(ctx context.Context, w Window) (map[string]any, error) {
	return c.report(ctx, "time-in-stage", w)
}

// Velocity fetches the deal velocity report.
func (c *Client) Velocity(ctx context.Context, w Window) (map[string]any, error) {
	return c.report(ctx, "velocity", w)
}

func (c *Client) report(ctx context.Context, name string, w Window) (map[string]any, error) {
	var resp map[string]any
	err := c.get(ctx, "v1/analytics/"+name+windowQuery(w), &resp)
	return resp, err
}

func windowQuery(w Window) string {
	q := url.Values{}
	if w.Period != "" {
		q.Set("period", w.Period)
	}
	if w.StartDate != "" {
		q.Set("start_date", w.StartDate)
	}
	if w.EndDate != "" {
		q.Set("end_date", w.EndDate)
	}
	if w.OwnerID != "" {
		q.Set("owner_id", w.OwnerID)
	}
	if w.EmployeeBreakdown {
		q.Set("employee_breakdown", "true")
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
