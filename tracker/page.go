package tracker

import "net/url"

// PageContext describes the page an event is emitted from.
type PageContext interface {
	URL() string
	// Referrer is empty for direct visits.
	Referrer() string
	UserAgent() string
	Title() string
	Path() string
}

// StaticPage is a PageContext with fixed values.
type StaticPage struct {
	Href          string
	ReferrerURL   string
	Agent         string
	DocumentTitle string
}

func (p StaticPage) URL() string       { return p.Href }
func (p StaticPage) Referrer() string  { return p.ReferrerURL }
func (p StaticPage) UserAgent() string { return p.Agent }
func (p StaticPage) Title() string     { return p.DocumentTitle }

func (p StaticPage) Path() string {
	u, err := url.Parse(p.Href)
	if err != nil {
		return ""
	}
	return u.Path
}
