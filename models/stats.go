package models

import "encoding/json"

// Stats is the summary returned by the stats endpoint. Counters are float64
// so that values such as 12.0 decode. Unknown counters the backend adds are
// kept in Extra.
type Stats struct {
	TotalEvents    float64 `json:"total_events"`
	UniqueVisitors float64 `json:"unique_visitors"`
	PageViews      float64 `json:"page_views"`
	BotDetections  float64 `json:"bot_detections"`

	Extra map[string]any `json:"-"`
}

var statsKeys = []string{"total_events", "unique_visitors", "page_views", "bot_detections"}

func (s *Stats) UnmarshalJSON(b []byte) error {
	type plain Stats
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range statsKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*s = Stats(p)
	return nil
}

func (s Stats) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+len(statsKeys))
	for k, v := range s.Extra {
		out[k] = v
	}
	out["total_events"] = s.TotalEvents
	out["unique_visitors"] = s.UniqueVisitors
	out["page_views"] = s.PageViews
	out["bot_detections"] = s.BotDetections
	return json.Marshal(out)
}

type TrafficSource struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Color string  `json:"color,omitempty"`
}

type TrafficSourcesResponse struct {
	Sources []TrafficSource `json:"sources"`
}

// Alert is an upstream threat signal. Details is opaque: a string or any
// JSON value the backend chooses.
type Alert struct {
	Type      string `json:"type"`
	Details   any    `json:"details"`
	Timestamp string `json:"timestamp"`
}

type AlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

// SuspiciousActivity is relayed verbatim; its shape belongs to the backend.
type SuspiciousActivity = json.RawMessage
