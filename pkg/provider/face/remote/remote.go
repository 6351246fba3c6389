// Package remote provides a face.Detector backed by an HTTP inference server.
//
// The server must expose:
//
//   - POST /detect: multipart form with "file" (encoded frame), "width",
//     "height" and optional "model"; responds with
//     {"face": null} or {"face": {"landmarks": [[x,y] x6], "bounding_box":
//     {"x":..,"y":..,"width":..,"height":..}, "confidence": 0.93}}.
//   - GET /health: any 2xx status means ready.
//
// Usage:
//
//	det, err := remote.New("http://localhost:9001", remote.WithModel("blazeface"))
//	d, err := det.Detect(ctx, jpeg, 1280, 720)
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/internal/httpimage"
	"github.com/MrWong99/poise/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Compile-time assertion that Detector implements face.Detector.
var _ face.Detector = (*Detector)(nil)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses its default model.
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

// WithHTTPClient replaces the HTTP client entirely (useful for tests and
// custom transports). Applied before WithTimeout when both are given in that
// order.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) {
		if c != nil {
			d.httpClient = c
		}
	}
}

// Detector implements face.Detector over HTTP. It is safe for concurrent use.
type Detector struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Detector talking to the server at baseURL
// (e.g., "http://localhost:9001"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		return nil, errors.New("remote face: baseURL must not be empty")
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

// wireFace is the JSON shape of one detected face.
type wireFace struct {
	Landmarks   [][2]float64 `json:"landmarks"`
	BoundingBox types.Box    `json:"bounding_box"`
	Confidence  float64      `json:"confidence"`
}

type detectResponse struct {
	Face *wireFace `json:"face"`
}

// Detect submits image to POST /detect and converts the response.
func (d *Detector) Detect(ctx context.Context, image []byte, width, height int) (*face.Detection, error) {
	body, err := httpimage.Post(ctx, d.httpClient, d.baseURL+"/detect", httpimage.Request{
		Image:  image,
		Width:  width,
		Height: height,
		Model:  d.model,
	})
	if err != nil {
		return nil, fmt.Errorf("remote face: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("remote face: decode response: %w", err)
	}
	if resp.Face == nil {
		return nil, nil
	}

	det := &face.Detection{
		Box:        resp.Face.BoundingBox,
		Confidence: resp.Face.Confidence,
	}
	if len(resp.Face.Landmarks) >= int(face.NumLandmarks) {
		det.Landmarks = make([]types.Point, face.NumLandmarks)
		for i := range det.Landmarks {
			det.Landmarks[i] = types.Point{X: resp.Face.Landmarks[i][0], Y: resp.Face.Landmarks[i][1]}
		}
	}
	return det, nil
}

// Health probes GET /health.
func (d *Detector) Health(ctx context.Context) error {
	if err := httpimage.Health(ctx, d.httpClient, d.baseURL+"/health"); err != nil {
		return fmt.Errorf("remote face: %w", err)
	}
	return nil
}
