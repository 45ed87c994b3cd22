package models

import (
	"fmt"
	"time"
)

// ActivityHours is the number of hourly buckets in Stats.RecentActivity.
const ActivityHours = 24

// SeverityCounts counts alerts per severity.
type SeverityCounts struct {
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
	Low      int `json:"low" yaml:"low"`
}

func (c *SeverityCounts) add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	}
}

// StatusCounts counts alerts per status.
type StatusCounts struct {
	Open          int `json:"open" yaml:"open"`
	Investigating int `json:"investigating" yaml:"investigating"`
	Resolved      int `json:"resolved" yaml:"resolved"`
	FalsePositive int `json:"false_positive" yaml:"false_positive"`
}

func (c *StatusCounts) add(s Status) {
	switch s {
	case StatusOpen:
		c.Open++
	case StatusInvestigating:
		c.Investigating++
	case StatusResolved:
		c.Resolved++
	case StatusFalsePositive:
		c.FalsePositive++
	}
}

// ActivityBucket counts alerts whose timestamp falls in one hour.
type ActivityBucket struct {
	Time           time.Time `json:"time" yaml:"time"`
	Label          string    `json:"label" yaml:"label"`
	Total          int       `json:"total" yaml:"total"`
	SeverityCounts `yaml:",inline"`
}

// Stats summarizes a set of alerts for the dashboard.
type Stats struct {
	TotalAlerts    int              `json:"total_alerts" yaml:"total_alerts"`
	BySeverity     SeverityCounts   `json:"by_severity" yaml:"by_severity"`
	ByStatus       StatusCounts     `json:"by_status" yaml:"by_status"`
	RecentActivity []ActivityBucket `json:"recent_activity" yaml:"recent_activity"`
}

// ComputeStats counts alerts by severity and status and breaks the trailing
// 24 hours before now into one-hour buckets, newest first. Bucket i covers
// [now-(i+1)h, now-ih); the newest bucket also includes now itself.
func ComputeStats(alerts []Alert, now time.Time) Stats {
	now = now.UTC()
	stats := Stats{
		TotalAlerts:    len(alerts),
		RecentActivity: make([]ActivityBucket, ActivityHours),
	}
	for i := range stats.RecentActivity {
		start := now.Add(-time.Duration(i+1) * time.Hour)
		stats.RecentActivity[i] = ActivityBucket{
			Time:  start,
			Label: fmt.Sprintf("%02d:00", start.Hour()),
		}
	}

	oldest := now.Add(-ActivityHours * time.Hour)
	for _, a := range alerts {
		stats.BySeverity.add(a.Severity)
		stats.ByStatus.add(a.Status)

		ts := a.Timestamp.UTC()
		if ts.Before(oldest) || ts.After(now) {
			continue
		}
		i := int(now.Sub(ts) / time.Hour)
		if ts.Equal(now) {
			i = 0
		} else if now.Sub(ts)%time.Hour == 0 {
			// ts sits on a bucket boundary: it starts the older bucket.
			i--
		}
		if i >= ActivityHours {
			continue
		}
		b := &stats.RecentActivity[i]
		b.Total++
		b.SeverityCounts.add(a.Severity)
	}
	return stats
}
