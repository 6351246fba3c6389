package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/MrWong99/poise/internal/app"
	"github.com/MrWong99/poise/internal/config"
	facemock "github.com/MrWong99/poise/pkg/provider/face/mock"
	posemock "github.com/MrWong99/poise/pkg/provider/pose/mock"
)

// writeImage writes a w×h image to path, as BMP when the extension says so
// and as PNG otherwise.
func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if filepath.Ext(path) == ".bmp" {
		err = bmp.Encode(f, img)
	} else {
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestParseReplayFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		wantFPS float64
	}{
		{name: "defaults", args: []string{"-dir", "frames"}, wantFPS: 30},
		{name: "custom fps", args: []string{"-dir", "frames", "-fps", "12.5"}, wantFPS: 12.5},
		{name: "missing dir", args: nil, wantErr: true},
		{name: "zero fps", args: []string{"-dir", "frames", "-fps", "0"}, wantErr: true},
		{name: "unknown flag", args: []string{"-dir", "frames", "-speed", "2"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o, err := parseReplayFlags(tc.args, io.Discard)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if o.fps != tc.wantFPS {
				t.Errorf("fps = %v, want %v", o.fps, tc.wantFPS)
			}
		})
	}
}

func TestFrameFiles_FiltersAndSorts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"0002.png", "0001.PNG", "notes.txt", "0003.bmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := frameFiles(dir)
	if err != nil {
		t.Fatalf("frameFiles: %v", err)
	}
	want := []string{"0001.PNG", "0002.png", "0003.bmp"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if filepath.Base(got[i]) != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, filepath.Base(got[i]), want[i])
		}
	}
}

func TestLoadFrame_DecodesDimensions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pngPath := filepath.Join(dir, "a.png")
	bmpPath := filepath.Join(dir, "b.bmp")
	writeImage(t, pngPath, 64, 48)
	writeImage(t, bmpPath, 32, 24)

	h, data, err := loadFrame(pngPath, 3, 10)
	if err != nil {
		t.Fatalf("loadFrame png: %v", err)
	}
	if h.Width != 64 || h.Height != 48 || h.Seq != 4 || h.Timestamp != 0.3 {
		t.Errorf("png header = %+v", *h)
	}
	if len(data) == 0 {
		t.Error("png data is empty")
	}

	h, _, err = loadFrame(bmpPath, 0, 10)
	if err != nil {
		t.Fatalf("loadFrame bmp: %v", err)
	}
	if h.Width != 32 || h.Height != 24 {
		t.Errorf("bmp header = %+v", *h)
	}

	junk := filepath.Join(dir, "junk.jpg")
	if err := os.WriteFile(junk, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadFrame(junk, 0, 10); err == nil {
		t.Error("loadFrame accepted a non-image")
	}
}

func TestLoadTranscript(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "segments.json")
	body := `[{"text":"hello","start":0,"end":1.2},{"text":"again","start":2,"end":3}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	segs, err := loadTranscript(path)
	if err != nil {
		t.Fatalf("loadTranscript: %v", err)
	}
	if len(segs) != 2 || segs[0].Text != "hello" || segs[1].Start != 2 {
		t.Errorf("segments = %+v", segs)
	}
}

func TestReplay_EndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := range 12 {
		writeImage(t, filepath.Join(dir, frameName(i)), 64, 48)
	}

	cfg := config.Default()
	cfg.Analysis.SampleRate = 30
	cfg.Analysis.BufferCapacity = 4
	fd := &facemock.Detector{}
	providers := &app.Providers{Face: fd, Pose: &posemock.Detector{}}

	report, err := replay(context.Background(), cfg, providers, replayOptions{dir: dir, fps: 10})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.FramesReceived != 12 {
		t.Errorf("FramesReceived = %d, want 12", report.FramesReceived)
	}
	if report.FramesDroppedByBackpressure != 0 {
		t.Errorf("FramesDroppedByBackpressure = %d, want 0", report.FramesDroppedByBackpressure)
	}
	if report.FramesAnalyzed != 12 {
		t.Errorf("FramesAnalyzed = %d, want 12", report.FramesAnalyzed)
	}
	if calls := fd.DetectCalls; len(calls) == 0 || calls[0].Width != 64 || calls[0].Height != 48 {
		t.Errorf("face detector calls = %d, first dims wrong", len(calls))
	}
}

func TestReplay_EmptyDirectory(t *testing.T) {
	t.Parallel()

	_, err := replay(context.Background(), config.Default(), &app.Providers{Face: &facemock.Detector{}},
		replayOptions{dir: t.TempDir(), fps: 10})
	if err == nil {
		t.Fatal("replay of an empty directory returned nil error")
	}
}

func frameName(i int) string {
	return "frame_" + string(rune('a'+i)) + ".png"
}
