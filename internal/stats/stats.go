// Package stats aggregates email logs into deliverability figures.
package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/falak/mailrelay/internal/storage"
)

// DefaultHours is the reporting window when none is requested
const DefaultHours = 24

// MaxHours caps the reporting window at ten years
const MaxHours = 87600

// Period summarizes the logs of the reporting window
type Period struct {
	Total       int `json:"total"`
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
	SuccessRate int `json:"successRate"`
}

// Bucket is one point of the time series
type Bucket struct {
	Label      string `json:"label"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

// Deliverability is the window summary plus its time series
type Deliverability struct {
	Period     Period   `json:"period"`
	TimeSeries []Bucket `json:"timeSeries"`
}

// Empty returns the figures reported when no logs are available
func Empty() *Deliverability {
	return &Deliverability{
		Period:     Period{SuccessRate: 100},
		TimeSeries: []Bucket{},
	}
}

// Cutoff returns the start of a window of hours ending at now.
// Windows longer than MaxHours are cut to MaxHours.
func Cutoff(now time.Time, hours int) time.Time {
	return now.Add(-time.Duration(min(hours, MaxHours)) * time.Hour)
}

// Label returns the bucket label of t. Windows up to a day are bucketed by hour,
// up to a week by day, and longer windows by week of the year.
func Label(t time.Time, hours int) string {
	t = t.UTC()
	switch {
	case hours <= 24:
		return t.Format("2006-01-02T15") + ":00"
	case hours <= 168:
		return t.Format("2006-01-02")
	default:
		yearStart := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		week := int(t.Sub(yearStart) / (7 * 24 * time.Hour))
		return fmt.Sprintf("Week %d", week)
	}
}

// Aggregate computes deliverability over the logs at or after the window start.
// Only success counts as successful; fallback and failed both count as failed.
func Aggregate(logs []*storage.EmailLog, hours int, now time.Time) *Deliverability {
	cutoff := Cutoff(now, hours)

	d := Empty()
	buckets := make(map[string]*Bucket)

	for _, l := range logs {
		if l.Timestamp.Before(cutoff) {
			continue
		}

		label := Label(l.Timestamp, hours)
		b, ok := buckets[label]
		if !ok {
			b = &Bucket{Label: label}
			buckets[label] = b
		}

		d.Period.Total++
		b.Total++
		if l.Status == storage.StatusSuccess {
			d.Period.Successful++
			b.Successful++
		} else {
			d.Period.Failed++
			b.Failed++
		}
	}

	d.Period.SuccessRate = SuccessRate(d.Period.Successful, d.Period.Total)

	for _, b := range buckets {
		d.TimeSeries = append(d.TimeSeries, *b)
	}
	sort.Slice(d.TimeSeries, func(i, j int) bool {
		return d.TimeSeries[i].Label < d.TimeSeries[j].Label
	})

	return d
}

// SuccessRate returns the rounded percentage of successful sends, 100 when total is zero
func SuccessRate(successful, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Floor(float64(successful)*100/float64(total) + 0.5))
}
