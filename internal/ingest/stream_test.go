package ingest_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/vision"
	"github.com/MrWong99/poise/pkg/types"
)

type ack struct {
	Seq       int64  `json:"seq"`
	Admission string `json:"admission"`
}

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, h types.FrameHeader, image []byte) ack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg, err := ingest.EncodeBinaryFrame(h, image)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	var got ack
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	return got
}

func TestStream_FeedsFrames(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	srv := newServer(t, rec)
	conn := dialStream(t, srv.URL+"/v1/recordings/r1/stream")

	for i := range 3 {
		h := types.FrameHeader{Timestamp: float64(i) * 0.1, Seq: int64(i + 1), Width: 640, Height: 480}
		got := sendFrame(t, conn, h, []byte{byte(i), 0xff})
		if got.Seq != h.Seq || got.Admission != "admitted" {
			t.Errorf("frame %d ack = %+v", i, got)
		}
	}

	if n := rec.frameCount(); n != 3 {
		t.Fatalf("enqueued %d frames, want 3", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.headers[2].Seq != 3 || rec.images[2][0] != 2 {
		t.Errorf("last frame = %+v %v", rec.headers[2], rec.images[2])
	}
}

func TestStream_MalformedMessageIsAcknowledged(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	srv := newServer(t, rec)
	conn := dialStream(t, srv.URL+"/v1/recordings/r1/stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	var got ack
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if got.Admission != vision.RejectedInvalid.String() {
		t.Errorf("admission = %q, want %q", got.Admission, vision.RejectedInvalid)
	}

	// The stream survives a bad message.
	next := sendFrame(t, conn, types.FrameHeader{Timestamp: 0, Seq: 1, Width: 10, Height: 10}, []byte{1})
	if next.Admission != "admitted" {
		t.Errorf("admission after bad message = %q", next.Admission)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.malformed != 1 || len(rec.headers) != 1 {
		t.Errorf("malformed/valid frames enqueued = %d/%d, want 1/1", rec.malformed, len(rec.headers))
	}
}

func TestStream_TextMessageClosesSocket(t *testing.T) {
	t.Parallel()

	srv := newServer(t, newFakeRecorder("r1"))
	conn := dialStream(t, srv.URL+"/v1/recordings/r1/stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusUnsupportedData {
		t.Errorf("close status = %v, want %v (err %v)", got, websocket.StatusUnsupportedData, err)
	}
}

func TestStream_ClosesWhenRecordingEnds(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder("r1")
	srv := newServer(t, rec)
	conn := dialStream(t, srv.URL+"/v1/recordings/r1/stream")

	sendFrame(t, conn, types.FrameHeader{Timestamp: 0, Seq: 1, Width: 10, Height: 10}, []byte{1})
	if err := rec.Stop(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := ingest.EncodeBinaryFrame(types.FrameHeader{Timestamp: 0.1, Seq: 2, Width: 10, Height: 10}, []byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
		t.Fatal(err)
	}
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want %v (err %v)", got, websocket.StatusNormalClosure, err)
	}
}

func TestStream_UnknownRecording(t *testing.T) {
	t.Parallel()

	srv := newServer(t, newFakeRecorder())
	resp, err := http.Get(srv.URL + "/v1/recordings/nope/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
