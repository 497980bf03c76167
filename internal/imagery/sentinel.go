package imagery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/backyonatan-alt/sitewatch/internal/imagery/sentinelhub"
	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const SourceSentinelHub = "sentinel-hub"

type processor interface {
	Process(ctx context.Context, req sentinelhub.ProcessRequest) ([]byte, error)
}

// SentinelHub renders true-colour imagery through the Sentinel Hub Process API.
type SentinelHub struct {
	client     processor
	uploader   Uploader
	windowDays int
	now        func() time.Time
}

func NewSentinelHub(client processor, uploader Uploader, windowDays int) *SentinelHub {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	return &SentinelHub{client: client, uploader: uploader, windowDays: windowDays, now: time.Now}
}

func (s *SentinelHub) CaptureSnapshot(ctx context.Context, req CaptureRequest) (model.Snapshot, error) {
	date := targetDate(req.Date, s.now())
	bounds := BoundingBox(req.Point, math.Max(req.RadiusMeters, minRadiusMeters))
	start, end := DateWindow(date, s.windowDays)

	png, err := s.client.Process(ctx, sentinelhub.ProcessRequest{
		Bounds:           bounds,
		From:             start.Time,
		To:               end.Time,
		MaxCloudCoverage: maxCloudCover,
		Width:            renderDimension,
		Height:           renderDimension,
		Evalscript:       sentinelhub.TrueColor,
	})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("sentinel hub capture: %w", err)
	}

	url, err := s.uploader.Upload(ctx, objectKey(req.ProjectID, date, SourceSentinelHub), png, "image/png")
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("sentinel hub upload: %w", err)
	}

	slog.Info("imagery captured", "source", SourceSentinelHub, "project", req.ProjectID, "bytes", len(png))
	return model.Snapshot{
		Date:       date,
		ImageURL:   url,
		Bounds:     bounds,
		CapturedAt: s.now(),
		Source:     SourceSentinelHub,
	}, nil
}

func (s *SentinelHub) GetHistoricalSnapshots(ctx context.Context, req HistoryRequest) ([]model.Snapshot, error) {
	return SampleHistory(ctx, s.CaptureSnapshot, req)
}
