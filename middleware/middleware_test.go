package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghosttrack/beacon/middleware"
	"ghosttrack/beacon/models"
	"ghosttrack/beacon/tracker"
	"ghosttrack/beacon/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(c *gin.Context) { c.String(http.StatusOK, "ok") }

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(middleware.CORSMiddleware("http://dash.example"))
	r.GET("/api/dashboard", ok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/dashboard", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://dash.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://dash.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	secret := []byte("test-secret")
	valid, err := utils.GenerateServiceToken(secret, "viewer", "site", time.Minute)
	require.NoError(t, err)
	expired, err := utils.GenerateServiceToken(secret, "viewer", "site", -time.Minute)
	require.NoError(t, err)
	foreign, err := utils.GenerateServiceToken([]byte("other"), "viewer", "site", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		apiKey  string
		secret  []byte
		prepare func(r *http.Request)
		want    int
	}{
		{name: "Disabled", want: http.StatusOK},
		{
			name:    "APIKey",
			apiKey:  "k",
			secret:  secret,
			prepare: func(r *http.Request) { r.Header.Set("X-API-KEY", "k") },
			want:    http.StatusOK,
		},
		{
			name:    "WrongAPIKeyNoSecret",
			apiKey:  "k",
			prepare: func(r *http.Request) { r.Header.Set("X-API-KEY", "nope") },
			want:    http.StatusUnauthorized,
		},
		{
			name:    "Bearer",
			secret:  secret,
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			want:    http.StatusOK,
		},
		{
			name:    "Cookie",
			secret:  secret,
			prepare: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: middleware.TokenCookie, Value: valid}) },
			want:    http.StatusOK,
		},
		{
			name:    "Expired",
			secret:  secret,
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			want:    http.StatusUnauthorized,
		},
		{
			name:    "WrongSecret",
			secret:  secret,
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+foreign) },
			want:    http.StatusUnauthorized,
		},
		{name: "Missing", apiKey: "k", secret: secret, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger := slogtest.Make(t, nil)
			r := gin.New()
			r.Use(middleware.AuthRequired(logger, tt.apiKey, tt.secret))
			r.GET("/", func(c *gin.Context) {
				if v, ok := c.Get(middleware.ClaimsKey); ok {
					assert.Equal(t, "site", v.(*utils.Claims).SiteID)
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	t.Parallel()
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	r := gin.New()
	r.Use(middleware.Logger(logger))
	r.GET("/ok", ok)
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusBadGateway)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok?x=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

type recorder struct {
	mu   sync.Mutex
	sent []models.EventEnvelope
}

func (*recorder) Name() string          { return "recorder" }
func (*recorder) Available([]byte) bool { return true }

func (r *recorder) Send(_ context.Context, _ string, payload []byte) error {
	var env models.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

func (r *recorder) events() []models.EventEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.EventEnvelope(nil), r.sent...)
}

func newTracker(t *testing.T, opts ...tracker.Option) (*tracker.Tracker, *recorder) {
	t.Helper()
	rec := &recorder{}
	tr := tracker.New(tracker.DefaultConfig().With(opts...), nil, nil, tracker.Deps{
		Logger:    slogtest.Make(t, nil),
		Preferred: rec,
		Fallback:  rec,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tr.Close(ctx)
	})
	return tr, rec
}

func flush(t *testing.T, tr *tracker.Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))
}

func navigate(target string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Referer", "https://search.example/?q=ghosttrack")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestTrackPageviewsCookieSession(t *testing.T) {
	t.Parallel()
	tr, rec := newTracker(t, tracker.WithSiteID("dash"))
	r := gin.New()
	r.Use(middleware.TrackPageviews(tr, nil, "GhostTrack Dashboard"))
	r.GET("/", ok)
	r.GET("/api/dashboard", ok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, navigate("/?tab=traffic"))
	require.Equal(t, http.StatusOK, w.Code)
	session := cookie(w, tracker.SessionKey)
	require.NotNil(t, session)
	assert.Zero(t, session.MaxAge)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, navigate("/", session))
	require.Equal(t, http.StatusOK, w.Code)

	api := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	api.Header.Set("Accept", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), api)

	flush(t, tr)
	events := rec.events()
	require.Len(t, events, 2)
	for _, env := range events {
		assert.Equal(t, models.EventTypePageview, env.EventType)
		assert.Equal(t, "dash", env.SiteID)
		assert.Equal(t, session.Value, env.SessionID)
		assert.Equal(t, "test-agent", env.UserAgent)
		require.NotNil(t, env.Referrer)
		assert.Equal(t, "https://search.example/?q=ghosttrack", *env.Referrer)
		assert.Equal(t, "GhostTrack Dashboard", env.Metadata["page_title"])
		assert.Equal(t, "/", env.Metadata["page_path"])
	}
	assert.Equal(t, "http://example.com/?tab=traffic", events[0].URL)
}

type scoper struct {
	mu   sync.Mutex
	tabs map[string]*tracker.MemorySessionStore
}

func (s *scoper) Scope(tabID string) tracker.SessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabs[tabID] == nil {
		s.tabs[tabID] = tracker.NewMemorySessionStore()
	}
	return s.tabs[tabID]
}

func TestTrackPageviewsScopedSessions(t *testing.T) {
	t.Parallel()
	tr, rec := newTracker(t, tracker.WithAutoPageview(true))
	sessions := &scoper{tabs: map[string]*tracker.MemorySessionStore{}}
	r := gin.New()
	r.Use(middleware.TrackPageviews(tr, sessions, ""))
	r.GET("/", ok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, navigate("/"))
	tab := cookie(w, middleware.TabCookie)
	require.NotNil(t, tab)
	assert.Nil(t, cookie(w, tracker.SessionKey))

	r.ServeHTTP(httptest.NewRecorder(), navigate("/", tab))
	// Another tab starts its own session.
	r.ServeHTTP(httptest.NewRecorder(), navigate("/"))

	flush(t, tr)
	events := rec.events()
	require.Len(t, events, 3, "auto page views are tracked once per request")
	assert.Equal(t, events[0].SessionID, events[1].SessionID)
	assert.NotEqual(t, events[0].SessionID, events[2].SessionID)
	assert.Len(t, sessions.tabs, 2)
	assert.NotContains(t, events[0].Metadata, "page_title")
}

func TestTrackPageviewsFetchMode(t *testing.T) {
	t.Parallel()
	tr, rec := newTracker(t)
	r := gin.New()
	r.Use(middleware.TrackPageviews(tr, nil, ""))
	r.GET("/", ok)

	req := navigate("/")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	r.ServeHTTP(httptest.NewRecorder(), req)

	flush(t, tr)
	assert.Len(t, rec.events(), 1)
}
