// Package ingest exposes recordings over HTTP.
//
// Routes:
//
//	GET    /v1/recordings               list active recordings
//	POST   /v1/recordings               start a recording
//	GET    /v1/recordings/{id}          extended status
//	POST   /v1/recordings/{id}/frames   push one frame (multipart: header, image)
//	GET    /v1/recordings/{id}/stream   push frames over a WebSocket
//	POST   /v1/recordings/{id}/finalize transcript segments in, report out
//	DELETE /v1/recordings/{id}          stop without a report
//
// The handler talks to a [Recorder]; the app package provides the concrete
// implementation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/vision"
	"github.com/MrWong99/poise/pkg/types"
)

// DefaultMaxFrameBytes bounds a single frame upload (header plus image).
const DefaultMaxFrameBytes int64 = 8 << 20

var (
	// ErrRecordingExists is returned by [Recorder.Start] when the requested
	// ID is already in use.
	ErrRecordingExists = errors.New("recording already exists")

	// ErrRecordingNotFound is returned for operations on an unknown ID.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrTooManyRecordings is returned by [Recorder.Start] when the
	// concurrency limit is reached.
	ErrTooManyRecordings = errors.New("too many concurrent recordings")

	// ErrShuttingDown is returned by [Recorder.Start] once the server drains.
	ErrShuttingDown = errors.New("server is shutting down")
)

// RecordingInfo holds metadata about an active recording.
type RecordingInfo struct {
	// ID is the unique identifier of the recording.
	ID string `json:"id"`

	// StartedAt is when the recording was started.
	StartedAt time.Time `json:"started_at"`

	// Status is the processor's current counters and mode.
	Status vision.Status `json:"status"`
}

// Recorder manages the lifecycle of recordings.
type Recorder interface {
	Start(ctx context.Context, id string) (string, error)
	Enqueue(id string, header *types.FrameHeader, image []byte) (vision.Admission, error)
	Finalize(ctx context.Context, id string, segments []types.TranscriptSegment) (*vision.VisualObservations, error)
	Stop(ctx context.Context, id string) error
	Status(id string) (vision.ExtendedStatus, error)
	List() []RecordingInfo
}

// Handler serves the recording API.
type Handler struct {
	rec           Recorder
	maxFrameBytes int64
}

// Option is a functional option for [New].
type Option func(*Handler)

// WithMaxFrameBytes bounds the size of a single uploaded frame. Values <= 0
// are ignored.
func WithMaxFrameBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxFrameBytes = n
		}
	}
}

// New creates a Handler backed by rec.
func New(rec Recorder, opts ...Option) *Handler {
	h := &Handler{
		rec:           rec,
		maxFrameBytes: DefaultMaxFrameBytes,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the recording routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/recordings", h.list)
	mux.HandleFunc("POST /v1/recordings", h.start)
	mux.HandleFunc("GET /v1/recordings/{id}", h.status)
	mux.HandleFunc("DELETE /v1/recordings/{id}", h.stop)
	mux.HandleFunc("POST /v1/recordings/{id}/frames", h.frames)
	mux.HandleFunc("GET /v1/recordings/{id}/stream", h.stream)
	mux.HandleFunc("POST /v1/recordings/{id}/finalize", h.finalize)
}

// ── Request and response bodies ──────────────────────────────────────────────

type startRequest struct {
	ID string `json:"id"`
}

type startResponse struct {
	ID string `json:"id"`
}

type frameResponse struct {
	Seq       int64  `json:"seq"`
	Admission string `json:"admission"`
}

type finalizeRequest struct {
	Segments []types.TranscriptSegment `json:"segments"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	recs := h.rec.List()
	if recs == nil {
		recs = []RecordingInfo{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ingest: decode start request: %w", err))
		return
	}
	id, err := h.rec.Start(r.Context(), req.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/recordings/"+id)
	writeJSON(w, http.StatusCreated, startResponse{ID: id})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.rec.Status(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.Stop(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) frames(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFrameBytes)
	id := r.PathValue("id")
	header, image, err := readMultipartFrame(r, h.maxFrameBytes)
	if errors.Is(err, errBadFrame) {
		// The recording still counts the frame as received and errored.
		if _, enqErr := h.rec.Enqueue(id, nil, nil); enqErr != nil {
			err = enqErr
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adm, err := h.rec.Enqueue(id, header, image)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if adm == vision.Admitted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, frameResponse{Seq: header.Seq, Admission: adm.String()})
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ingest: decode finalize request: %w", err))
		return
	}
	report, err := h.rec.Finalize(r.Context(), r.PathValue("id"), req.Segments)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// fail maps err to a status code and writes it. Unexpected errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("ingest: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
	}
	writeError(w, status, err)
}

// statusFor maps recorder and transport errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadFrame):
		return http.StatusBadRequest
	case errors.Is(err, ErrRecordingNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRecordingExists),
		errors.Is(err, vision.ErrFinalized),
		errors.Is(err, vision.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyRecordings):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptionalJSON decodes a JSON body into v. An empty body leaves v
// untouched.
func decodeOptionalJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
