package model

import (
	"fmt"
	"time"
)

// Status is the progress classification attached to a snapshot.
type Status string

const (
	StatusBaseline  Status = "baseline"
	StatusProgress  Status = "progress"
	StatusStalled   Status = "stalled"
	StatusCompleted Status = "completed"
)

// Project is a monitored development project as read from storage.
type Project struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    string         `json:"status"`
	Location  map[string]any `json:"location"`
	Snapshots []Snapshot     `json:"satellite_snapshots"`
}

// LastSnapshot returns the most recent snapshot, or nil if none exist.
func (p Project) LastSnapshot() *Snapshot {
	if len(p.Snapshots) == 0 {
		return nil
	}
	s := p.Snapshots[len(p.Snapshots)-1]
	return &s
}

// Bounds is a north/south/east/west bounding box in degrees.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lng >= b.West && p.Lng <= b.East
}

// Snapshot is one captured satellite image for a project at one point in time.
type Snapshot struct {
	Date          Date              `json:"date"`
	ImageURL      string            `json:"imageUrl"`
	CloudCoverage float64           `json:"cloudCoverage"`
	Bounds        Bounds            `json:"bounds"`
	CapturedAt    time.Time         `json:"capturedAt"`
	Source        string            `json:"source,omitempty"`
	Analysis      *ProgressAnalysis `json:"analysis,omitempty"`
}

// ProgressAnalysis is the classifier output stored with a snapshot.
type ProgressAnalysis struct {
	Status           Status   `json:"status"`
	ChangePercentage *float64 `json:"changePercentage,omitempty"`
	Notes            string   `json:"notes"`
}

// RunResult summarizes one monitoring run. It is not persisted.
type RunResult struct {
	SuccessCount    int     `json:"success_count"`
	ErrorCount      int     `json:"error_count"`
	TotalCount      int     `json:"total_count"`
	SkippedCount    int     `json:"skipped_count"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Summary renders the counts for the manual trigger response.
func (r RunResult) Summary() string {
	s := fmt.Sprintf("%d succeeded, %d failed", r.SuccessCount, r.ErrorCount)
	if r.SkippedCount > 0 {
		s += fmt.Sprintf(", %d skipped", r.SkippedCount)
	}
	return s
}

// ClampCloudCoverage bounds a cloud coverage reading to [0,100]. NaN maps to 0.
func ClampCloudCoverage(pct float64) float64 {
	switch {
	case pct != pct, pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
