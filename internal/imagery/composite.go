package imagery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/backyonatan-alt/sitewatch/internal/imagery/earthengine"
	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const (
	minRadiusMeters   = 800.0
	maxCloudCover     = 20.0
	renderDimension   = 1200
	defaultWindowDays = 30
)

// Source describes one multispectral collection and how to render it.
type Source struct {
	Name         string
	CollectionID string
	Bands        []string
	CloudField   string
	// Reflectance = DN*Scale + Offset.
	Scale  float64
	Offset float64
	Vis    earthengine.Visualization
	// Unsharp mask parameters, in pixels.
	SharpenRadius float64
	SharpenSigma  float64
	SharpenAmount float64
}

var (
	Sentinel2 = Source{
		Name:          "sentinel-2",
		CollectionID:  "COPERNICUS/S2_SR_HARMONIZED",
		Bands:         []string{"B4", "B3", "B2"},
		CloudField:    "CLOUDY_PIXEL_PERCENTAGE",
		Scale:         0.0001,
		Vis:           earthengine.Visualization{Min: 0, Max: 0.3, Gamma: 1.4},
		SharpenRadius: 2,
		SharpenSigma:  1,
		SharpenAmount: 0.6,
	}
	Landsat8 = Source{
		Name:          "landsat-8",
		CollectionID:  "LANDSAT/LC08/C02/T1_L2",
		Bands:         []string{"SR_B4", "SR_B3", "SR_B2"},
		CloudField:    "CLOUD_COVER",
		Scale:         0.0000275,
		Offset:        -0.2,
		Vis:           earthengine.Visualization{Min: 0, Max: 0.3, Gamma: 1.2},
		SharpenRadius: 2,
		SharpenSigma:  1,
		SharpenAmount: 0.8,
	}
)

// filtered returns the collection restricted to region, window and cloud cover.
func (s Source) filtered(region earthengine.Value, start, end model.Date) earthengine.Value {
	coll := earthengine.LoadCollection(s.CollectionID)
	coll = earthengine.FilterBounds(coll, region)
	coll = earthengine.FilterDate(coll, start, end)
	return earthengine.FilterLessThan(coll, s.CloudField, maxCloudCover)
}

// render builds the clipped, sharpened median composite in reflectance units.
func (s Source) render(coll, region earthengine.Value) earthengine.Value {
	img := earthengine.Select(earthengine.Median(coll), s.Bands)
	img = earthengine.Multiply(img, earthengine.ConstantImage(s.Scale))
	if s.Offset != 0 {
		img = earthengine.Add(img, earthengine.ConstantImage(s.Offset))
	}
	img = earthengine.Clip(img, region)
	return earthengine.UnsharpMask(img, s.SharpenRadius, s.SharpenSigma, s.SharpenAmount)
}

// engine is the subset of the Earth Engine client used here.
type engine interface {
	ComputeValue(ctx context.Context, expr earthengine.Expression, out any) error
	ComputePixels(ctx context.Context, req earthengine.PixelsRequest) ([]byte, error)
}

// Composite renders median composites through Earth Engine, trying each
// source in order until one succeeds.
type Composite struct {
	engine     engine
	uploader   Uploader
	sources    []Source
	windowDays int
	now        func() time.Time
	onFallback func(source string, err error)
}

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

func WithSources(sources ...Source) CompositeOption {
	return func(c *Composite) { c.sources = sources }
}

func WithWindowDays(days int) CompositeOption {
	return func(c *Composite) {
		if days > 0 {
			c.windowDays = days
		}
	}
}

func WithCompositeClock(now func() time.Time) CompositeOption {
	return func(c *Composite) { c.now = now }
}

// WithFallbackHook is called each time a source fails and the next is tried.
func WithFallbackHook(fn func(source string, err error)) CompositeOption {
	return func(c *Composite) { c.onFallback = fn }
}

func NewComposite(e engine, uploader Uploader, opts ...CompositeOption) *Composite {
	c := &Composite{
		engine:     e,
		uploader:   uploader,
		sources:    []Source{Sentinel2, Landsat8},
		windowDays: defaultWindowDays,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composite) CaptureSnapshot(ctx context.Context, req CaptureRequest) (model.Snapshot, error) {
	date := targetDate(req.Date, c.now())
	radius := math.Max(req.RadiusMeters, minRadiusMeters)
	bounds := BoundingBox(req.Point, radius)
	start, end := DateWindow(date, c.windowDays)

	var errs []error
	for i, src := range c.sources {
		snap, err := c.captureFrom(ctx, src, req.ProjectID, date, bounds, start, end)
		if err == nil {
			return snap, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
		if ctx.Err() != nil {
			break
		}
		if i < len(c.sources)-1 {
			slog.Warn("imagery source failed, falling back", "source", src.Name, "next", c.sources[i+1].Name, "project", req.ProjectID, "error", err)
			if c.onFallback != nil {
				c.onFallback(src.Name, err)
			}
		}
	}
	return model.Snapshot{}, fmt.Errorf("all imagery sources failed: %w", errors.Join(errs...))
}

func (c *Composite) captureFrom(ctx context.Context, src Source, projectID string, date model.Date, bounds model.Bounds, start, end model.Date) (model.Snapshot, error) {
	region := earthengine.Rectangle(bounds)
	coll := src.filtered(region, start, end)

	// [scene count, mean cloud cover]; the mean is null for an empty collection.
	var stats [2]*float64
	expr := earthengine.NewExpression(earthengine.List(
		earthengine.Size(coll),
		earthengine.AggregateMean(coll, src.CloudField),
	))
	if err := c.engine.ComputeValue(ctx, expr, &stats); err != nil {
		return model.Snapshot{}, fmt.Errorf("count scenes: %w", err)
	}
	if stats[0] == nil || *stats[0] < 1 {
		return model.Snapshot{}, fmt.Errorf("%w between %s and %s", ErrNoScenes, start, end)
	}
	cloud := 0.0
	if stats[1] != nil {
		cloud = *stats[1]
	}

	png, err := c.engine.ComputePixels(ctx, earthengine.PixelsRequest{
		Expression: earthengine.NewExpression(src.render(coll, region)),
		Bounds:     bounds,
		Dimension:  renderDimension,
		Vis:        src.Vis,
	})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("render: %w", err)
	}

	url, err := c.uploader.Upload(ctx, objectKey(projectID, date, src.Name), png, "image/png")
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("upload: %w", err)
	}

	slog.Info("imagery captured", "source", src.Name, "project", projectID, "scenes", int(*stats[0]), "cloud", cloud)
	return model.Snapshot{
		Date:          date,
		ImageURL:      url,
		CloudCoverage: model.ClampCloudCoverage(cloud),
		Bounds:        bounds,
		CapturedAt:    c.now(),
		Source:        src.Name,
	}, nil
}

func (c *Composite) GetHistoricalSnapshots(ctx context.Context, req HistoryRequest) ([]model.Snapshot, error) {
	return SampleHistory(ctx, c.CaptureSnapshot, req)
}
