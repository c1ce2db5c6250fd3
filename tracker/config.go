package tracker

import "time"

const (
	DefaultEndpointURL = "http://localhost:8000/api/v1/events/track"
	DefaultSiteID      = "default-site"
	DefaultQueueSize   = 256
	DefaultTimeout     = 10 * time.Second
)

// Config is the tracker configuration. It is a value: With returns a
// modified copy and never touches the receiver.
type Config struct {
	EndpointURL  string
	SiteID       string
	DebugLogging bool
	// AutoPageview tracks a page view once for every page context handed
	// to ForPage.
	AutoPageview bool
	QueueSize    int
	Timeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		EndpointURL: DefaultEndpointURL,
		SiteID:      DefaultSiteID,
		QueueSize:   DefaultQueueSize,
		Timeout:     DefaultTimeout,
	}
}

// Option overrides a single configuration key.
type Option func(*Config)

func WithEndpointURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.EndpointURL = url
		}
	}
}

func WithSiteID(siteID string) Option {
	return func(c *Config) {
		if siteID != "" {
			c.SiteID = siteID
		}
	}
}

func WithDebugLogging(debug bool) Option {
	return func(c *Config) {
		c.DebugLogging = debug
	}
}

func WithAutoPageview(auto bool) Option {
	return func(c *Config) {
		c.AutoPageview = auto
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// With returns a copy of c with opts applied. Keys not named by an option
// keep their current value.
func (c Config) With(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EndpointURL == "" {
		c.EndpointURL = d.EndpointURL
	}
	if c.SiteID == "" {
		c.SiteID = d.SiteID
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
