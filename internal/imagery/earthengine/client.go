package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const (
	DefaultBaseURL = "https://earthengine.googleapis.com/v1"
	Scope          = "https://www.googleapis.com/auth/earthengine"
)

// Client talks to the Earth Engine REST API for a single cloud project.
type Client struct {
	client  *http.Client
	baseURL string
	project string
}

// New builds a client authenticated with a service account key.
func New(ctx context.Context, project string, serviceAccountJSON []byte) (*Client, error) {
	if project == "" {
		return nil, fmt.Errorf("earth engine project is required")
	}
	creds, err := google.CredentialsFromJSON(ctx, serviceAccountJSON, Scope)
	if err != nil {
		return nil, fmt.Errorf("earth engine credentials: %w", err)
	}
	hc := oauth2.NewClient(ctx, creds.TokenSource)
	hc.Timeout = 2 * time.Minute
	return NewWithHTTPClient(hc, DefaultBaseURL, project), nil
}

// NewWithHTTPClient uses hc as-is; it must already attach credentials.
func NewWithHTTPClient(hc *http.Client, baseURL, project string) *Client {
	return &Client{client: hc, baseURL: baseURL, project: project}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("earth engine API error %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// ComputeValue evaluates expr and decodes the result into out.
func (c *Client) ComputeValue(ctx context.Context, expr Expression, out any) error {
	body, err := c.post(ctx, "value:compute", map[string]any{"expression": expr})
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("earth engine parse: %w", err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("earth engine decode result: %w", err)
	}
	return nil
}

// Visualization maps band values to display range.
type Visualization struct {
	Min   float64
	Max   float64
	Gamma float64
}

// PixelsRequest renders expr over bounds into a square PNG.
type PixelsRequest struct {
	Expression Expression
	Bounds     model.Bounds
	Dimension  int
	Vis        Visualization
}

type affineTransform struct {
	ScaleX     float64 `json:"scaleX"`
	ShearX     float64 `json:"shearX"`
	TranslateX float64 `json:"translateX"`
	ShearY     float64 `json:"shearY"`
	ScaleY     float64 `json:"scaleY"`
	TranslateY float64 `json:"translateY"`
}

// ComputePixels returns PNG bytes for the request.
func (c *Client) ComputePixels(ctx context.Context, req PixelsRequest) ([]byte, error) {
	if req.Dimension <= 0 {
		return nil, fmt.Errorf("earth engine: dimension must be positive")
	}
	b := req.Bounds
	n := float64(req.Dimension)

	payload := map[string]any{
		"expression": req.Expression,
		"fileFormat": "PNG",
		"grid": map[string]any{
			"dimensions": map[string]int{"width": req.Dimension, "height": req.Dimension},
			"affineTransform": affineTransform{
				ScaleX:     (b.East - b.West) / n,
				TranslateX: b.West,
				ScaleY:     -(b.North - b.South) / n,
				TranslateY: b.North,
			},
			"crsCode": "EPSG:4326",
		},
		"visualizationOptions": map[string]any{
			"ranges":          []map[string]float64{{"min": req.Vis.Min, "max": req.Vis.Max}},
			"gammaCorrection": req.Vis.Gamma,
		},
	}
	return c.post(ctx, "image:computePixels", payload)
}

func (c *Client) post(ctx context.Context, method string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("earth engine encode: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/%s", c.baseURL, c.project, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("earth engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("earth engine %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("earth engine read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(code int, body []byte) error {
	apiErr := &APIError{StatusCode: code}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Status = envelope.Error.Status
		return apiErr
	}
	apiErr.Message = string(body)
	return apiErr
}
