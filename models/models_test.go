package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghosttrack/beacon/models"
)

func TestTimestampUnmarshal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want models.Timestamp
	}{
		{name: "String", in: `"2024-01-01T10:00:00Z"`, want: "2024-01-01T10:00:00Z"},
		{name: "Null", in: `null`, want: ""},
		{name: "Number", in: `1704103200`, want: "1704103200"},
		{name: "Object", in: `{"at":1}`, want: `{"at":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ev models.Event
			require.NoError(t, json.Unmarshal([]byte(`{"event_type":"pageview","timestamp":`+tt.in+`}`), &ev))
			assert.Equal(t, tt.want, ev.Timestamp)
		})
	}
}

func TestStatsDecodesFractionalCounters(t *testing.T) {
	t.Parallel()
	var s models.Stats
	require.NoError(t, json.Unmarshal([]byte(`{"total_events":12.0,"page_views":3,"sessions":5}`), &s))
	assert.Equal(t, 12.0, s.TotalEvents)
	assert.Equal(t, 3.0, s.PageViews)
	assert.Equal(t, map[string]any{"sessions": 5.0}, s.Extra)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_events":12,"unique_visitors":0,"page_views":3,"bot_detections":0,"sessions":5}`, string(out))
}

func TestAlertDetailsAreOpaque(t *testing.T) {
	t.Parallel()
	var resp models.AlertsResponse
	require.NoError(t, json.Unmarshal([]byte(`{"alerts":[
		{"type":"bot","details":"headless"},
		{"type":"burst","details":{"ip":"1.2.3.4","count":40}}
	]}`), &resp))
	require.Len(t, resp.Alerts, 2)
	assert.Equal(t, "headless", resp.Alerts[0].Details)
	assert.Equal(t, map[string]any{"ip": "1.2.3.4", "count": 40.0}, resp.Alerts[1].Details)
}
