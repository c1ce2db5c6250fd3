package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"

	"ghosttrack/beacon/aggregate"
	"ghosttrack/beacon/analytics"
	"ghosttrack/beacon/dashboard"
	"ghosttrack/beacon/models"
)

const (
	MsgLoading    = "Loading dashboard..."
	MsgNoEvents   = "No events yet"
	MsgNoTraffic  = "No traffic data yet"
	MsgAllClear   = "All clear! No threats detected."
	upstreamLimit = 10 * time.Second
)

// ViewSource owns the dashboard state.
type ViewSource interface {
	View() dashboard.View
	Refresh(ctx context.Context) error
	RefreshTrafficSources(ctx context.Context) error
}

// Upstream is the part of the analytics API proxied on request.
type Upstream interface {
	SuspiciousActivity(ctx context.Context) (models.SuspiciousActivity, error)
	EventsByType(ctx context.Context, start, end time.Time) (json.RawMessage, error)
}

type DashboardHandlers struct {
	Views    ViewSource
	Upstream Upstream
	Clock    quartz.Clock
	Logger   slog.Logger
}

// NewDashboardHandlers uses the real clock when clock is nil.
func NewDashboardHandlers(views ViewSource, upstream Upstream, clock quartz.Clock, logger slog.Logger) *DashboardHandlers {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &DashboardHandlers{Views: views, Upstream: upstream, Clock: clock, Logger: logger.Named("handlers")}
}

type seriesResponse struct {
	Labels  []string `json:"labels"`
	Counts  []int    `json:"counts"`
	Total   int      `json:"total"`
	Dropped int      `json:"dropped"`
	Message string   `json:"message,omitempty"`
}

func newSeriesResponse(s aggregate.Series) seriesResponse {
	resp := seriesResponse{
		Labels:  make([]string, len(s.Buckets)),
		Counts:  make([]int, len(s.Buckets)),
		Total:   s.Total(),
		Dropped: s.Dropped,
	}
	for i, b := range s.Buckets {
		resp.Labels[i] = b.Label
		resp.Counts[i] = b.Count
	}
	if resp.Total == 0 {
		resp.Message = MsgNoEvents
	}
	return resp
}

type trafficResponse struct {
	aggregate.Breakdown
	Message string `json:"message,omitempty"`
}

func newTrafficResponse(b aggregate.Breakdown) trafficResponse {
	resp := trafficResponse{Breakdown: b}
	if !b.HasData {
		resp.Message = MsgNoTraffic
	}
	return resp
}

type alertsResponse struct {
	Alerts  []models.Alert `json:"alerts"`
	Message string         `json:"message,omitempty"`
}

func newAlertsResponse(alerts []models.Alert) alertsResponse {
	resp := alertsResponse{Alerts: alerts}
	if len(alerts) == 0 {
		resp.Message = MsgAllClear
	}
	return resp
}

// GetDashboard returns the whole view in one payload.
func (h *DashboardHandlers) GetDashboard(c *gin.Context) {
	v := h.Views.View()
	resp := gin.H{
		"loaded":             v.Loaded,
		"stats":              v.Stats,
		"events":             v.Events,
		"alerts":             newAlertsResponse(v.Alerts),
		"daily":              newSeriesResponse(v.Daily),
		"hourly":             newSeriesResponse(v.Hourly),
		"traffic":            newTrafficResponse(v.Traffic),
		"updated_at":         v.UpdatedAt,
		"traffic_updated_at": v.TrafficUpdatedAt,
	}
	if !v.Loaded {
		resp["message"] = MsgLoading
	} else if len(v.Events) == 0 {
		resp["message"] = MsgNoEvents
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DashboardHandlers) GetDaily(c *gin.Context) {
	c.JSON(http.StatusOK, newSeriesResponse(h.Views.View().Daily))
}

func (h *DashboardHandlers) GetHourly(c *gin.Context) {
	c.JSON(http.StatusOK, newSeriesResponse(h.Views.View().Hourly))
}

func (h *DashboardHandlers) GetTraffic(c *gin.Context) {
	c.JSON(http.StatusOK, newTrafficResponse(h.Views.View().Traffic))
}

func (h *DashboardHandlers) GetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, newAlertsResponse(h.Views.View().Alerts))
}

// Refresh runs an immediate refresh of both polls. A failed refresh leaves
// the view unchanged and reports 502.
func (h *DashboardHandlers) Refresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), upstreamLimit)
	defer cancel()

	if err := h.Views.Refresh(ctx); err != nil {
		h.upstreamError(c, "refresh dashboard", err)
		return
	}
	if err := h.Views.RefreshTrafficSources(ctx); err != nil {
		h.upstreamError(c, "refresh traffic sources", err)
		return
	}
	h.GetDashboard(c)
}

func (h *DashboardHandlers) GetSuspicious(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), upstreamLimit)
	defer cancel()

	activity, err := h.Upstream.SuspiciousActivity(ctx)
	if err != nil {
		h.upstreamError(c, "fetch suspicious activity", err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", activity)
}

// GetEventsByType proxies per-type counts. start and end accept RFC3339 or a
// date and default to the last seven days.
func (h *DashboardHandlers) GetEventsByType(c *gin.Context) {
	end := h.Clock.Now().UTC()
	start := end.Add(-7 * 24 * time.Hour)

	var err error
	if p := c.Query("start"); p != "" {
		if start, err = parseQueryTime(p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z) or 2006-01-02"})
			return
		}
	}
	if p := c.Query("end"); p != "" {
		if end, err = parseQueryTime(p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z) or 2006-01-02"})
			return
		}
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'end' must not be before 'start'"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), upstreamLimit)
	defer cancel()

	data, err := h.Upstream.EventsByType(ctx, start, end)
	if err != nil {
		h.upstreamError(c, "fetch events by type", err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *DashboardHandlers) Health(c *gin.Context) {
	v := h.Views.View()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"loaded":     v.Loaded,
		"updated_at": v.UpdatedAt,
	})
}

func (h *DashboardHandlers) upstreamError(c *gin.Context, what string, err error) {
	fields := []slog.Field{slog.F("path", c.FullPath()), slog.Error(err)}
	var apiErr *analytics.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, slog.F("upstream_status", apiErr.StatusCode))
	}
	h.Logger.With(fields...).Warn(c.Request.Context(), what)
	_ = c.Error(err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to " + what})
}

func parseQueryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
