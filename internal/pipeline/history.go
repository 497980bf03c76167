package pipeline

import (
	"context"

	"github.com/backyonatan-alt/sitewatch/internal/imagery"
	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Snapshots returns the stored snapshot history of a project.
func (m *Monitor) Snapshots(ctx context.Context, projectID string) ([]model.Snapshot, error) {
	p, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.Snapshots == nil {
		return []model.Snapshot{}, nil
	}
	return p.Snapshots, nil
}

// History samples imagery for a project across [start, end] without
// persisting anything.
func (m *Monitor) History(ctx context.Context, projectID string, start, end model.Date, intervalDays int) ([]model.Snapshot, error) {
	p, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	point, err := model.ParsePoint(p.Location)
	if err != nil {
		return nil, err
	}
	snaps, err := m.provider.GetHistoricalSnapshots(ctx, imagery.HistoryRequest{
		ProjectID:    p.ID,
		Point:        point,
		RadiusMeters: m.radius,
		Start:        start,
		End:          end,
		IntervalDays: intervalDays,
	})
	if snaps == nil && err == nil {
		snaps = []model.Snapshot{}
	}
	return snaps, err
}
