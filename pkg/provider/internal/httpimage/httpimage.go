// Package httpimage posts encoded video frames to HTTP inference servers as
// multipart forms. It is shared by the remote face and pose detector clients.
package httpimage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// maxResponseBytes caps how much of an inference response is read.
const maxResponseBytes = 1 << 20

// Request is one frame submitted for inference.
type Request struct {
	Image  []byte
	Width  int
	Height int

	// Model is forwarded as the "model" form field when non-empty.
	Model string
}

// Post sends req to url as multipart/form-data with the fields "file",
// "width", "height" and optionally "model". It returns the response body of a
// 200 response and an error for every other status.
func Post(ctx context.Context, client *http.Client, url string, req Request) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := http.DetectContentType(req.Image)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="frame%s"`, extension(contentType)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := w.WriteField("width", strconv.Itoa(req.Width)); err != nil {
		return nil, fmt.Errorf("write width: %w", err)
	}
	if err := w.WriteField("height", strconv.Itoa(req.Height)); err != nil {
		return nil, fmt.Errorf("write height: %w", err)
	}
	if req.Model != "" {
		if err := w.WriteField("model", req.Model); err != nil {
			return nil, fmt.Errorf("write model: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Health issues GET url and returns nil for any 2xx status.
func Health(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}
