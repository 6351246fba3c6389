package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/MrWong99/poise/internal/app"
	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/internal/vision"
	"github.com/MrWong99/poise/pkg/types"
)

// frameExtensions are the image formats replay picks up from a directory.
var frameExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}

// roomPollInterval is how often replay checks for buffer space.
const roomPollInterval = 2 * time.Millisecond

// replayOptions holds the parsed replay flags.
type replayOptions struct {
	dir        string
	fps        float64
	transcript string
	realtime   bool
}

func parseReplayFlags(args []string, stderr io.Writer) (replayOptions, error) {
	var o replayOptions
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.dir, "dir", "", "directory of frame images, replayed in lexical order")
	fs.Float64Var(&o.fps, "fps", 30, "capture rate used to derive frame timestamps")
	fs.StringVar(&o.transcript, "transcript", "", "optional JSON file with transcript segments")
	fs.BoolVar(&o.realtime, "realtime", false, "pace frames at -fps instead of waiting for buffer space")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.dir == "" {
		return o, fmt.Errorf("replay: -dir is required")
	}
	if !(o.fps > 0) {
		return o, fmt.Errorf("replay: -fps must be positive, got %v", o.fps)
	}
	return o, nil
}

// runReplay feeds a directory of frames through one recording and prints the
// report as JSON on stdout.
func runReplay(ctx context.Context, cfg *config.Config, providers *app.Providers, args []string) int {
	opts, err := parseReplayFlags(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poise: %v\n", err)
		return 2
	}

	report, err := replay(ctx, cfg, providers, opts)
	if err != nil {
		slog.Error("replay failed", "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to write report", "err", err)
		return 1
	}
	return 0
}

func replay(ctx context.Context, cfg *config.Config, providers *app.Providers, opts replayOptions) (*vision.VisualObservations, error) {
	files, err := frameFiles(opts.dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("replay: no frames in %s", opts.dir)
	}

	var segments []types.TranscriptSegment
	if opts.transcript != "" {
		if segments, err = loadTranscript(opts.transcript); err != nil {
			return nil, err
		}
	}

	rm := app.NewRecordingManager(app.RecordingManagerConfig{
		Analysis: cfg.Analysis,
		Face:     providers.Face,
		Pose:     providers.Pose,
	})
	defer func() { _ = rm.Shutdown(context.WithoutCancel(ctx)) }()

	id, err := rm.Start(ctx, "replay")
	if err != nil {
		return nil, err
	}

	slog.Info("replay: feeding frames", "dir", opts.dir, "frames", len(files), "fps", opts.fps)
	start := time.Now()
	for i, path := range files {
		header, img, err := loadFrame(path, i, opts.fps)
		if err != nil {
			return nil, err
		}

		if opts.realtime {
			due := start.Add(time.Duration(header.Timestamp * float64(time.Second)))
			if err := sleepUntil(ctx, due); err != nil {
				return nil, err
			}
		} else if err := waitForRoom(ctx, rm, id); err != nil {
			return nil, err
		}

		adm, err := rm.Enqueue(id, header, img)
		if err != nil {
			return nil, err
		}
		if adm != vision.Admitted {
			slog.Debug("replay: frame not admitted", "path", path, "admission", adm.String())
		}
	}

	return rm.Finalize(ctx, id, segments)
}

// frameFiles lists the image files in dir sorted by name.
func frameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("replay: read frame directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.Contains(frameExtensions, ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// loadFrame reads one image and builds its header. Only the image header is
// decoded to learn the dimensions; the bytes are passed on untouched.
func loadFrame(path string, index int, fps float64) (*types.FrameHeader, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: %w", err)
	}
	ic, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("replay: decode %s: %w", filepath.Base(path), err)
	}
	return &types.FrameHeader{
		Timestamp: float64(index) / fps,
		Seq:       int64(index + 1),
		Width:     ic.Width,
		Height:    ic.Height,
	}, data, nil
}

func loadTranscript(path string) ([]types.TranscriptSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	var segs []types.TranscriptSegment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("replay: parse transcript %s: %w", filepath.Base(path), err)
	}
	return segs, nil
}

// waitForRoom blocks until the recording's buffer can take another frame, so
// an offline replay is never shaped by backpressure.
func waitForRoom(ctx context.Context, rm *app.RecordingManager, id string) error {
	for {
		st, err := rm.Status(id)
		if err != nil {
			return err
		}
		if st.BufferDepth < st.BufferCapacity {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(roomPollInterval):
		}
	}
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
