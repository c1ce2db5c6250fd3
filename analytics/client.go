// Package analytics is a client for the GhostTrack analytics query API.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ghosttrack/beacon/models"
	"ghosttrack/beacon/utils"
)

const (
	DefaultBaseURL = "http://localhost:8000/api/v1"
	DefaultSiteID  = "ghosttrack-test-dashboard"
	DefaultTimeout = 10 * time.Second

	tokenTTL = 5 * time.Minute
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analytics api %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("analytics api %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

type Client struct {
	BaseURL     *url.URL
	SiteID      string
	HTTPClient  *http.Client
	// TokenSecret, when set, signs a short-lived bearer token per request.
	TokenSecret []byte
}

func New(baseURL, siteID string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if siteID == "" {
		siteID = DefaultSiteID
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse analytics base url: %w", err)
	}
	return &Client{
		BaseURL:    u,
		SiteID:     siteID,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}, nil
}

func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	err := c.get(ctx, "analytics/stats", nil, &stats)
	return stats, err
}

// RecentEvents returns at most limit of the newest events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp models.EventsResponse
	if err := c.get(ctx, "analytics/events", q, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// EventsByType returns per-type event data between start and end.
func (c *Client) EventsByType(ctx context.Context, start, end time.Time) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("start_date", start.Format(time.DateOnly))
	q.Set("end_date", end.Format(time.DateOnly))
	var resp json.RawMessage
	if err := c.get(ctx, "analytics/events/by-type", q, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) TrafficSources(ctx context.Context) ([]models.TrafficSource, error) {
	var resp models.TrafficSourcesResponse
	if err := c.get(ctx, "analytics/traffic-sources", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

func (c *Client) Alerts(ctx context.Context) ([]models.Alert, error) {
	var resp models.AlertsResponse
	if err := c.get(ctx, "threats/alerts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *Client) SuspiciousActivity(ctx context.Context) (models.SuspiciousActivity, error) {
	var resp json.RawMessage
	if err := c.get(ctx, "threats/suspicious", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("site_id", c.SiteID)
	u := c.BaseURL.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if len(c.TokenSecret) > 0 {
		token, err := utils.GenerateServiceToken(c.TokenSecret, "dashboard", c.SiteID, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign request %s: %w", path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
