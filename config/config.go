package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"ghosttrack/beacon/analytics"
	"ghosttrack/beacon/dashboard"
	"ghosttrack/beacon/tracker"
)

// Config is the dashboard service configuration. Missing values fall back to
// defaults; malformed ones do too and are reported in Warnings.
type Config struct {
	Port           string
	ReleaseMode    bool
	FrontendOrigin string
	APIKey         string
	JWTSecret      []byte

	AnalyticsURL    string
	DashboardSiteID string
	PollInterval    time.Duration
	EventsLimit     int

	Tracker tracker.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	Warnings []string
}

// Load reads the given .env files (".env" when none are named) and then the
// process environment. A missing .env file is not an error.
func Load(files ...string) *Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var warnings []string
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("load %s: %v", f, err))
		}
	}

	l := loader{warnings: warnings}
	cfg := &Config{
		Port:           l.str("PORT", "8080"),
		ReleaseMode:    os.Getenv("GIN_MODE") == "release",
		FrontendOrigin: l.str("FE_ORIGIN", "http://localhost:3000"),
		APIKey:         os.Getenv("AUTH_DEFAULT"),
		JWTSecret:      []byte(os.Getenv("JWT_SECRET_KEY")),

		AnalyticsURL:    l.str("ANALYTICS_API_URL", analytics.DefaultBaseURL),
		DashboardSiteID: l.str("DASHBOARD_SITE_ID", analytics.DefaultSiteID),
		PollInterval:    l.duration("POLL_INTERVAL", dashboard.DefaultInterval),
		EventsLimit:     l.int("EVENTS_LIMIT", dashboard.DefaultEventsLimit),

		Tracker: tracker.DefaultConfig().With(
			tracker.WithEndpointURL(os.Getenv("GHOSTTRACK_URL")),
			tracker.WithSiteID(l.str("GHOSTTRACK_SITE_ID", analytics.DefaultSiteID)),
			tracker.WithDebugLogging(l.bool("GHOSTTRACK_DEBUG", false)),
		),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       l.int("REDIS_DB", 0),
		SessionTTL:    l.duration("SESSION_TTL", 30*time.Minute),
	}
	cfg.Warnings = l.warnings
	return cfg
}

type loader struct {
	warnings []string
}

func (l *loader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s %q, using %d", key, v, def))
		return def
	}
	return n
}

func (l *loader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s %q, using %t", key, v, def))
		return def
	}
	return b
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s %q, using %s", key, v, def))
		return def
	}
	return d
}
