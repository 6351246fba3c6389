package ingest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/vision"
	"github.com/MrWong99/poise/pkg/types"
)

// fakeRecorder is an in-memory ingest.Recorder that records every call.
type fakeRecorder struct {
	mu sync.Mutex

	active    map[string]bool
	admission vision.Admission
	startErr  error
	report    *vision.VisualObservations

	headers   []types.FrameHeader
	images    [][]byte
	malformed int
	segments  []types.TranscriptSegment
	stopped   []string
}

func newFakeRecorder(ids ...string) *fakeRecorder {
	f := &fakeRecorder{
		active: make(map[string]bool),
		report: &vision.VisualObservations{FramesReceived: 3, FramesAnalyzed: 2},
	}
	for _, id := range ids {
		f.active[id] = true
	}
	return f
}

func (f *fakeRecorder) Start(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	if id == "" {
		id = fmt.Sprintf("rec-%d", len(f.active)+1)
	}
	if f.active[id] {
		return "", fmt.Errorf("%w: %q", ingest.ErrRecordingExists, id)
	}
	f.active[id] = true
	return id, nil
}

func (f *fakeRecorder) Enqueue(id string, header *types.FrameHeader, image []byte) (vision.Admission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return vision.RejectedClosed, ingest.ErrRecordingNotFound
	}
	if header == nil {
		f.malformed++
		return vision.RejectedInvalid, nil
	}
	f.headers = append(f.headers, *header)
	f.images = append(f.images, bytes.Clone(image))
	return f.admission, nil
}

func (f *fakeRecorder) Finalize(_ context.Context, id string, segments []types.TranscriptSegment) (*vision.VisualObservations, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return nil, ingest.ErrRecordingNotFound
	}
	delete(f.active, id)
	f.segments = segments
	return f.report, nil
}

func (f *fakeRecorder) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return ingest.ErrRecordingNotFound
	}
	delete(f.active, id)
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRecorder) Status(id string) (vision.ExtendedStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return vision.ExtendedStatus{}, ingest.ErrRecordingNotFound
	}
	return vision.ExtendedStatus{
		Status:         vision.Status{FramesReceived: len(f.headers), Mode: "normal"},
		BufferCapacity: 300,
	}, nil
}

func (f *fakeRecorder) List() []ingest.RecordingInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ingest.RecordingInfo
	for id := range f.active {
		out = append(out, ingest.RecordingInfo{ID: id})
	}
	return out
}

func (f *fakeRecorder) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.headers)
}

var _ ingest.Recorder = (*fakeRecorder)(nil)

func newServer(t *testing.T, rec ingest.Recorder, opts ...ingest.Option) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	ingest.New(rec, opts...).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// multipartFrame builds a frames upload body. An empty header or nil image
// omits that part.
func multipartFrame(t *testing.T, header string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if header != "" {
		if err := mw.WriteField("header", header); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "frame.jpg")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func postFrame(t *testing.T, srv *httptest.Server, id, header string, image []byte) *http.Response {
	t.Helper()
	body, ct := multipartFrame(t, header, image)
	resp, err := http.Post(srv.URL+"/v1/recordings/"+id+"/frames", ct, body)
	if err != nil {
		t.Fatalf("POST frames: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStart(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("taken")
	srv := newServer(t, rec)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantID     string
	}{
		{name: "empty body generates id", body: "", wantStatus: http.StatusCreated, wantID: "rec-2"},
		{name: "explicit id", body: `{"id":"talk-1"}`, wantStatus: http.StatusCreated, wantID: "talk-1"},
		{name: "duplicate id", body: `{"id":"taken"}`, wantStatus: http.StatusConflict},
		{name: "unknown field", body: `{"name":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", body: `{`, wantStatus: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/recordings", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if tc.wantID == "" {
				return
			}
			var got struct {
				ID string `json:"id"`
			}
			decodeBody(t, resp, &got)
			if got.ID != tc.wantID {
				t.Errorf("id = %q, want %q", got.ID, tc.wantID)
			}
			if loc := resp.Header.Get("Location"); loc != "/v1/recordings/"+tc.wantID {
				t.Errorf("Location = %q", loc)
			}
		})
	}
}

func TestStart_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("app: %w", ingest.ErrTooManyRecordings), want: http.StatusTooManyRequests},
		{err: ingest.ErrShuttingDown, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			t.Parallel()
			rec := newFakeRecorder()
			rec.startErr = tc.err
			srv := newServer(t, rec)

			resp, err := http.Post(srv.URL+"/v1/recordings", "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			var body struct {
				Error string `json:"error"`
			}
			decodeBody(t, resp, &body)
			if body.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestFrames_Multipart(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	srv := newServer(t, rec)

	resp := postFrame(t, srv, "r1", `{"timestamp":0.5,"seq":7,"width":640,"height":480}`, []byte("jpeg-bytes"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var got struct {
		Seq       int64  `json:"seq"`
		Admission string `json:"admission"`
	}
	decodeBody(t, resp, &got)
	if got.Seq != 7 || got.Admission != "admitted" {
		t.Errorf("response = %+v", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.headers) != 1 {
		t.Fatalf("enqueued %d frames, want 1", len(rec.headers))
	}
	want := types.FrameHeader{Timestamp: 0.5, Seq: 7, Width: 640, Height: 480}
	if rec.headers[0] != want {
		t.Errorf("header = %+v, want %+v", rec.headers[0], want)
	}
	if string(rec.images[0]) != "jpeg-bytes" {
		t.Errorf("image = %q", rec.images[0])
	}
}

func TestFrames_NotAdmittedIsNotAnError(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	rec.admission = vision.DroppedBackpressure
	srv := newServer(t, rec)

	resp := postFrame(t, srv, "r1", `{"timestamp":1,"seq":1,"width":640,"height":480}`, []byte{1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got struct {
		Admission string `json:"admission"`
	}
	decodeBody(t, resp, &got)
	if got.Admission != "backpressure" {
		t.Errorf("admission = %q, want backpressure", got.Admission)
	}
}

func TestFrames_Rejections(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	srv := newServer(t, rec, ingest.WithMaxFrameBytes(1<<10))

	tests := []struct {
		name   string
		id     string
		header string
		image  []byte
		want   int
	}{
		{name: "missing header", id: "r1", image: []byte{1}, want: http.StatusBadRequest},
		{name: "malformed header", id: "r1", header: `{"seq":`, image: []byte{1}, want: http.StatusBadRequest},
		{name: "unknown header field", id: "r1", header: `{"seq":1,"fps":30}`, image: []byte{1}, want: http.StatusBadRequest},
		{name: "missing image", id: "r1", header: `{"seq":1}`, want: http.StatusBadRequest},
		{name: "too large", id: "r1", header: `{"seq":1}`, image: make([]byte, 4<<10), want: http.StatusRequestEntityTooLarge},
		{name: "unknown recording", id: "nope", header: `{"seq":1}`, image: []byte{1}, want: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postFrame(t, srv, tc.id, tc.header, tc.image)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
	if n := rec.frameCount(); n != 0 {
		t.Errorf("enqueued %d frames, want 0", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.malformed != 4 {
		t.Errorf("malformed frames reported = %d, want 4", rec.malformed)
	}
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1", "r2")
	srv := newServer(t, rec)

	body := `{"segments":[{"text":"hello","start":0,"end":1.5},{"text":"world","start":2,"end":3}]}`
	resp, err := http.Post(srv.URL+"/v1/recordings/r1/finalize", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var report vision.VisualObservations
	decodeBody(t, resp, &report)
	if report.FramesReceived != 3 || report.FramesAnalyzed != 2 {
		t.Errorf("report = %+v", report)
	}

	rec.mu.Lock()
	segs := rec.segments
	rec.mu.Unlock()
	if len(segs) != 2 || segs[1].Text != "world" || segs[0].End != 1.5 {
		t.Errorf("segments = %+v", segs)
	}

	// No body finalizes without a transcript.
	resp2, err := http.Post(srv.URL+"/v1/recordings/r2/finalize", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("empty body status = %d, want %d", resp2.StatusCode, http.StatusOK)
	}

	// Finalizing again finds nothing.
	resp3, err := http.Post(srv.URL+"/v1/recordings/r1/finalize", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("second finalize status = %d, want %d", resp3.StatusCode, http.StatusNotFound)
	}
}

func TestStatusAndStop(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	srv := newServer(t, rec)

	resp, err := http.Get(srv.URL + "/v1/recordings/r1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st vision.ExtendedStatus
	decodeBody(t, resp, &st)
	if st.BufferCapacity != 300 || st.Mode != "normal" {
		t.Errorf("status = %+v", st)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/recordings/r1", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", del.StatusCode, http.StatusNoContent)
	}

	del2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatal(err)
	}
	del2.Body.Close()
	if del2.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want %d", del2.StatusCode, http.StatusNotFound)
	}

	missing, err := http.Get(srv.URL + "/v1/recordings/r1")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status after stop = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	srv := newServer(t, newFakeRecorder())
	resp, err := http.Get(srv.URL + "/v1/recordings")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got []ingest.RecordingInfo
	decodeBody(t, resp, &got)
	if got == nil || len(got) != 0 {
		t.Errorf("list = %#v, want empty non-null array", got)
	}
}
