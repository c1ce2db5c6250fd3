// Package aggregate turns raw event lists into fixed-shape chart series and
// traffic-source breakdowns.
package aggregate

import (
	"fmt"
	"time"

	"ghosttrack/beacon/models"
)

const (
	DailyBuckets  = 7
	HourlyBuckets = 12
)

// Bucket is one time slice of a series.
type Bucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Series is an ordered, gap-free list of buckets. Dropped counts events
// whose timestamp could not be parsed.
type Series struct {
	Buckets []Bucket `json:"buckets"`
	Dropped int      `json:"dropped"`
}

// Total is the sum of all bucket counts.
func (s Series) Total() int {
	n := 0
	for _, b := range s.Buckets {
		n += b.Count
	}
	return n
}

// BuildDailySeries counts events per calendar day for the seven days ending
// on windowEnd's date, in windowEnd's location. Labels are short weekday
// names, oldest first.
func BuildDailySeries(events []models.Event, windowEnd time.Time) Series {
	loc := windowEnd.Location()
	y, m, d := windowEnd.Date()
	last := time.Date(y, m, d, 0, 0, 0, 0, loc)

	buckets := make([]Bucket, DailyBuckets)
	for i := range buckets {
		start := last.AddDate(0, 0, i-(DailyBuckets-1))
		buckets[i] = Bucket{Label: start.Format("Mon"), Start: start}
	}

	dropped := 0
	for _, ev := range events {
		ts, err := ParseTimestamp(ev.When())
		if err != nil {
			dropped++
			continue
		}
		ey, em, ed := ts.In(loc).Date()
		day := time.Date(ey, em, ed, 0, 0, 0, 0, loc)
		for i := range buckets {
			if buckets[i].Start.Equal(day) {
				buckets[i].Count++
				break
			}
		}
	}
	return Series{Buckets: buckets, Dropped: dropped}
}

// BuildHourlySeries counts events per hour for the twelve hours ending at
// windowEnd's hour, inclusive. Labels are HH:00 on a 24 hour clock and the
// buckets run in chronological order across midnight.
func BuildHourlySeries(events []models.Event, windowEnd time.Time) Series {
	y, m, d := windowEnd.Date()
	last := time.Date(y, m, d, windowEnd.Hour(), 0, 0, 0, windowEnd.Location())
	first := last.Add(-time.Duration(HourlyBuckets-1) * time.Hour)

	buckets := make([]Bucket, HourlyBuckets)
	for i := range buckets {
		start := first.Add(time.Duration(i) * time.Hour)
		buckets[i] = Bucket{Label: fmt.Sprintf("%02d:00", start.Hour()), Start: start}
	}

	dropped := 0
	end := last.Add(time.Hour)
	for _, ev := range events {
		ts, err := ParseTimestamp(ev.When())
		if err != nil {
			dropped++
			continue
		}
		if ts.Before(first) || !ts.Before(end) {
			continue
		}
		buckets[int(ts.Sub(first)/time.Hour)].Count++
	}
	return Series{Buckets: buckets, Dropped: dropped}
}
