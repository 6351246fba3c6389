// Package remote provides a pose.Detector backed by an HTTP inference server.
//
// The server must expose:
//
//   - POST /detect: multipart form with "file", "width", "height" and
//     optional "model"; responds with {"pose": null} or {"pose": {"keypoints":
//     [{"x":..,"y":..,"confidence":..,"name":"left_wrist"}, ...],
//     "confidence": 0.88}}.
//   - GET /health: any 2xx status means ready.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/poise/pkg/provider/internal/httpimage"
	"github.com/MrWong99/poise/pkg/provider/pose"
)

const defaultTimeout = 10 * time.Second

// Compile-time assertion that Detector implements pose.Detector.
var _ pose.Detector = (*Detector)(nil)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithModel sets the model identifier forwarded to the server.
func WithModel(model string) Option {
	return func(d *Detector) {
		d.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) {
		if c != nil {
			d.httpClient = c
		}
	}
}

// Detector implements pose.Detector over HTTP. It is safe for concurrent use.
type Detector struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Detector talking to the server at baseURL.
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		return nil, errors.New("remote pose: baseURL must not be empty")
	}
	d := &Detector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

type detectResponse struct {
	Pose *pose.Detection `json:"pose"`
}

// Detect submits image to POST /detect and returns the decoded pose.
func (d *Detector) Detect(ctx context.Context, image []byte, width, height int) (*pose.Detection, error) {
	body, err := httpimage.Post(ctx, d.httpClient, d.baseURL+"/detect", httpimage.Request{
		Image:  image,
		Width:  width,
		Height: height,
		Model:  d.model,
	})
	if err != nil {
		return nil, fmt.Errorf("remote pose: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("remote pose: decode response: %w", err)
	}
	return resp.Pose, nil
}

// Health probes GET /health.
func (d *Detector) Health(ctx context.Context) error {
	if err := httpimage.Health(ctx, d.httpClient, d.baseURL+"/health"); err != nil {
		return fmt.Errorf("remote pose: %w", err)
	}
	return nil
}
