package sentinelhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const (
	DefaultBaseURL  = "https://services.sentinel-hub.com"
	DefaultTokenURL = "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"
)

// TrueColor renders Sentinel-2 L2A bands B04/B03/B02 with a brightness gain.
const TrueColor = `//VERSION=3
function setup() {
  return {
    input: ["B02", "B03", "B04", "dataMask"],
    output: { bands: 4 }
  };
}

function evaluatePixel(sample) {
  const gain = 2.5;
  return [gain * sample.B04, gain * sample.B03, gain * sample.B02, sample.dataMask];
}`

// Client calls the Sentinel Hub Process API.
type Client struct {
	client  *http.Client
	baseURL string
	tokens  *TokenCache
	limiter *rate.Limiter
}

// New creates a client. rps limits outbound Process API calls; rps <= 0
// disables throttling.
func New(baseURL string, tokens *TokenCache, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		client:  &http.Client{Timeout: 90 * time.Second},
		baseURL: baseURL,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// ProcessRequest describes a single rendered image.
type ProcessRequest struct {
	Bounds           model.Bounds
	From             time.Time
	To               time.Time
	MaxCloudCoverage float64
	Width            int
	Height           int
	Evalscript       string
}

type processPayload struct {
	Input struct {
		Bounds struct {
			BBox       []float64         `json:"bbox"`
			Properties map[string]string `json:"properties"`
		} `json:"bounds"`
		Data []processData `json:"data"`
	} `json:"input"`
	Output struct {
		Width     int              `json:"width"`
		Height    int              `json:"height"`
		Responses []map[string]any `json:"responses"`
	} `json:"output"`
	Evalscript string `json:"evalscript"`
}

type processData struct {
	Type       string `json:"type"`
	DataFilter struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		MaxCloudCoverage float64 `json:"maxCloudCoverage"`
		MosaickingOrder  string  `json:"mosaickingOrder"`
	} `json:"dataFilter"`
}

func buildPayload(req ProcessRequest) processPayload {
	var p processPayload
	b := req.Bounds
	p.Input.Bounds.BBox = []float64{b.West, b.South, b.East, b.North}
	p.Input.Bounds.Properties = map[string]string{"crs": "http://www.opengis.net/def/crs/EPSG/0/4326"}

	var d processData
	d.Type = "sentinel-2-l2a"
	d.DataFilter.TimeRange.From = req.From.UTC().Format(time.RFC3339)
	d.DataFilter.TimeRange.To = req.To.UTC().Format(time.RFC3339)
	d.DataFilter.MaxCloudCoverage = req.MaxCloudCoverage
	d.DataFilter.MosaickingOrder = "leastCC"
	p.Input.Data = []processData{d}

	p.Output.Width = req.Width
	p.Output.Height = req.Height
	p.Output.Responses = []map[string]any{{
		"identifier": "default",
		"format":     map[string]string{"type": "image/png"},
	}}
	p.Evalscript = req.Evalscript
	return p
}

// Process renders req and returns the PNG bytes.
func (c *Client) Process(ctx context.Context, req ProcessRequest) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sentinel hub rate limit: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("sentinel hub encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/process", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sentinel hub request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sentinel hub process: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sentinel hub read body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentinel hub API error: %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
