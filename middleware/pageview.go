package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ghosttrack/beacon/tracker"
)

// TabCookie identifies the visitor tab whose session lives in a
// SessionScoper.
const TabCookie = "ghosttrack_tab"

// SessionScoper hands out the session store of one tab.
type SessionScoper interface {
	Scope(tabID string) tracker.SessionStore
}

// TrackPageviews records a page view for every navigation to the dashboard.
// Sessions live in a browser-session cookie, or in sessions keyed by a tab
// cookie when sessions is non-nil. API calls and assets are not tracked.
func TrackPageviews(tr *tracker.Tracker, sessions SessionScoper, title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isNavigation(c.Request) {
			c.Next()
			return
		}

		var store tracker.SessionStore
		if sessions != nil {
			tabID, err := c.Cookie(TabCookie)
			if err != nil || tabID == "" {
				tabID = uuid.NewString()
				c.SetCookie(TabCookie, tabID, 0, "/", "", false, true)
			}
			store = sessions.Scope(tabID)
		} else {
			store = &cookieStore{c: c, values: map[string]string{}}
		}

		page := requestPage{r: c.Request, title: title}
		child := tr.ForPage(c.Request.Context(), page, store)
		if !tr.Config().AutoPageview {
			child.TrackPageview(c.Request.Context())
		}
		c.Next()
	}
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// requestPage describes the page being served by r.
type requestPage struct {
	r     *http.Request
	title string
}

func (p requestPage) URL() string {
	scheme := "http"
	if p.r.TLS != nil || p.r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + p.r.Host + p.r.URL.RequestURI()
}

func (p requestPage) Referrer() string  { return p.r.Referer() }
func (p requestPage) UserAgent() string { return p.r.UserAgent() }
func (p requestPage) Title() string     { return p.title }
func (p requestPage) Path() string      { return p.r.URL.Path }

// cookieStore keeps session values in cookies without MaxAge, so they are
// gone once the browser session ends. Values set during the request are
// visible to later reads of the same request.
type cookieStore struct {
	c      *gin.Context
	values map[string]string
}

func (s *cookieStore) Get(_ context.Context, key string) (string, bool, error) {
	if v, ok := s.values[key]; ok {
		return v, v != "", nil
	}
	v, err := s.c.Cookie(key)
	if err != nil {
		return "", false, nil
	}
	return v, v != "", nil
}

func (s *cookieStore) Set(_ context.Context, key, value string) error {
	s.values[key] = value
	s.c.SetCookie(key, value, 0, "/", "", false, true)
	return nil
}
