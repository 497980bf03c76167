package imagery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const metersPerDegree = 111320.0

var (
	// ErrNoScenes means no image matched the region, window and cloud filter.
	ErrNoScenes = errors.New("no scenes found")
	// ErrInvalidRange is a caller error in a historical sampling request.
	ErrInvalidRange = errors.New("invalid sampling range")
)

// CaptureRequest asks for one snapshot around Point. A zero Date means today.
type CaptureRequest struct {
	ProjectID    string
	Point        model.Point
	RadiusMeters float64
	Date         model.Date
}

// HistoryRequest asks for snapshots every IntervalDays across [Start, End].
type HistoryRequest struct {
	ProjectID    string
	Point        model.Point
	RadiusMeters float64
	Start        model.Date
	End          model.Date
	IntervalDays int
}

// Provider captures satellite snapshots.
type Provider interface {
	CaptureSnapshot(ctx context.Context, req CaptureRequest) (model.Snapshot, error)
	GetHistoricalSnapshots(ctx context.Context, req HistoryRequest) ([]model.Snapshot, error)
}

// Uploader stores rendered images and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// BoundingBox returns the box extending radiusMeters from p in each direction,
// clamped to valid coordinates. Near the poles the box spans every longitude.
func BoundingBox(p model.Point, radiusMeters float64) model.Bounds {
	dLat := radiusMeters / metersPerDegree
	dLng := 180.0
	if cos := math.Cos(p.Lat * math.Pi / 180); cos > 0 {
		dLng = math.Min(radiusMeters/(metersPerDegree*cos), 180)
	}
	return model.Bounds{
		North: math.Min(p.Lat+dLat, 90),
		South: math.Max(p.Lat-dLat, -90),
		East:  math.Min(p.Lng+dLng, 180),
		West:  math.Max(p.Lng-dLng, -180),
	}
}

// DateWindow returns [date-days, date+days].
func DateWindow(date model.Date, days int) (model.Date, model.Date) {
	return date.AddDays(-days), date.AddDays(days)
}

func targetDate(d model.Date, now time.Time) model.Date {
	if d.IsZero() {
		return model.DateOf(now)
	}
	return d
}

// objectKey builds a unique storage key for a rendered snapshot.
func objectKey(projectID string, date model.Date, source string) string {
	if projectID == "" {
		projectID = "unassigned"
	}
	return fmt.Sprintf("%s/%s_%s_%s.png", projectID, date, source, uuid.NewString()[:8])
}
