package models

import "encoding/json"

// EventTypePageview is the event type sent for page loads.
const EventTypePageview = "pageview"

// EventEnvelope is the body POSTed to the ingestion endpoint for one event.
type EventEnvelope struct {
	SiteID    string         `json:"site_id"`
	EventType string         `json:"event_type"`
	URL       string         `json:"url"`
	Referrer  *string        `json:"referrer"`
	UserAgent string         `json:"user_agent"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
}

// Event is an envelope as returned by the analytics query API. Timestamp is
// kept verbatim; parsing happens during bucketing so a bad value only drops
// that one event.
type Event struct {
	ID        any            `json:"id,omitempty"`
	SiteID    string         `json:"site_id"`
	EventType string         `json:"event_type"`
	URL       string         `json:"url"`
	Referrer  *string        `json:"referrer"`
	UserAgent string         `json:"user_agent"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp Timestamp      `json:"timestamp"`
	Date      Timestamp      `json:"date,omitempty"`
}

// When returns the raw time value of the event, falling back to Date for
// records that only carry a day.
func (e Event) When() string {
	if e.Timestamp != "" {
		return string(e.Timestamp)
	}
	return string(e.Date)
}

// Timestamp is a time value as the backend sent it. JSON strings are taken
// as is; any other JSON value is kept as its raw text, which no timestamp
// layout accepts, so one odd record is dropped during bucketing instead of
// failing the whole response.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Timestamp(s)
		return nil
	}
	*t = Timestamp(b)
	return nil
}

type EventsResponse struct {
	Events []Event `json:"events"`
}
