package aggregate

import (
	"fmt"
	"math"

	"ghosttrack/beacon/models"
)

// LabelThreshold is the share, in percent, a slice must exceed to get an
// inline label.
const LabelThreshold = 5.0

// Slice is one visible category of a traffic breakdown.
type Slice struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Color     string  `json:"color"`
	// Percent is the share of the total rounded to a whole percent.
	Percent   float64 `json:"percent"`
	ShowLabel bool    `json:"show_label"`
	Label     string  `json:"label,omitempty"`
}

type Breakdown struct {
	Total   float64 `json:"total"`
	Slices  []Slice `json:"slices"`
	HasData bool    `json:"has_data"`
}

var defaultPalette = map[string]string{
	"Direct":         "#667eea",
	"Organic Search": "#48bb78",
	"Social Media":   "#ed8936",
	"Referral":       "#4299e1",
}

var fallbackColors = []string{"#9f7aea", "#f56565", "#38b2ac", "#ecc94b", "#a0aec0"}

// DefaultTrafficSources are the categories shown before any data arrives.
func DefaultTrafficSources() []models.TrafficSource {
	return []models.TrafficSource{
		{Name: "Direct", Value: 0, Color: defaultPalette["Direct"]},
		{Name: "Organic Search", Value: 0, Color: defaultPalette["Organic Search"]},
		{Name: "Social Media", Value: 0, Color: defaultPalette["Social Media"]},
		{Name: "Referral", Value: 0, Color: defaultPalette["Referral"]},
	}
}

// NormalizeTrafficSources keeps categories with a positive value and computes
// each one's share. HasData is false when nothing positive remains.
func NormalizeTrafficSources(raw []models.TrafficSource) Breakdown {
	total := 0.0
	for _, src := range raw {
		if src.Value > 0 {
			total += src.Value
		}
	}
	if total <= 0 {
		return Breakdown{Slices: []Slice{}}
	}

	slices := make([]Slice, 0, len(raw))
	extra := 0
	for _, src := range raw {
		if src.Value <= 0 {
			continue
		}
		color := src.Color
		if color == "" {
			color = defaultPalette[src.Name]
		}
		if color == "" {
			color = fallbackColors[extra%len(fallbackColors)]
			extra++
		}
		share := src.Value / total * 100
		s := Slice{
			Name:      src.Name,
			Value:     src.Value,
			Color:     color,
			Percent:   math.Round(share),
			ShowLabel: share > LabelThreshold,
		}
		if s.ShowLabel {
			s.Label = fmt.Sprintf("%s %.0f%%", s.Name, s.Percent)
		}
		slices = append(slices, s)
	}
	return Breakdown{Total: total, Slices: slices, HasData: true}
}
