package imagery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// CaptureFunc captures a single snapshot.
type CaptureFunc func(ctx context.Context, req CaptureRequest) (model.Snapshot, error)

// SampleHistory walks [Start, End] every IntervalDays and captures a snapshot
// at each step. Failed samples are logged and skipped; the result is ordered
// by sample date.
func SampleHistory(ctx context.Context, capture CaptureFunc, req HistoryRequest) ([]model.Snapshot, error) {
	if req.IntervalDays < 1 {
		return nil, fmt.Errorf("%w: interval must be at least 1 day, got %d", ErrInvalidRange, req.IntervalDays)
	}
	if req.Start.After(req.End.Time) {
		return nil, fmt.Errorf("%w: start %s after end %s", ErrInvalidRange, req.Start, req.End)
	}

	slog.Info("sampling history", "project", req.ProjectID, "start", req.Start.String(), "end", req.End.String(), "interval_days", req.IntervalDays)

	var snapshots []model.Snapshot
	for cursor := req.Start; !cursor.After(req.End.Time); cursor = cursor.AddDays(req.IntervalDays) {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}

		snap, err := capture(ctx, CaptureRequest{
			ProjectID:    req.ProjectID,
			Point:        req.Point,
			RadiusMeters: req.RadiusMeters,
			Date:         cursor,
		})
		if err != nil {
			slog.Warn("history sample failed", "project", req.ProjectID, "date", cursor.String(), "error", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}

	slog.Info("history sampled", "project", req.ProjectID, "snapshots", len(snapshots))
	return snapshots, nil
}
