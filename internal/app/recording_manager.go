package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/vision"
	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

// The recording errors are shared with the HTTP layer so it can map them to
// status codes.
var (
	ErrRecordingExists   = ingest.ErrRecordingExists
	ErrRecordingNotFound = ingest.ErrRecordingNotFound
	ErrTooManyRecordings = ingest.ErrTooManyRecordings
	ErrShuttingDown      = ingest.ErrShuttingDown
)

// RecordingInfo holds metadata about an active recording.
type RecordingInfo = ingest.RecordingInfo

// recording is one live processor plus its drain goroutine.
type recording struct {
	id        string
	proc      *vision.Processor
	cancel    context.CancelFunc
	startedAt time.Time

	// done is closed when the drain goroutine returns.
	done chan struct{}
}

// RecordingManager owns the set of active recordings. Each recording gets a
// fresh [vision.Processor] built from the analysis config in effect when it
// started, and its own drain goroutine.
//
// All exported methods are safe for concurrent use.
type RecordingManager struct {
	mu            sync.Mutex
	recordings    map[string]*recording
	analysis      vision.Config
	maxConcurrent int
	closed        bool

	face    face.Detector
	pose    pose.Detector
	metrics *observe.Metrics
	now     func() time.Time
}

// RecordingManagerConfig holds all dependencies for a [RecordingManager].
type RecordingManagerConfig struct {
	// Analysis is the threshold set for new recordings.
	Analysis vision.Config

	// MaxConcurrent limits the number of active recordings. Zero or less
	// means unlimited.
	MaxConcurrent int

	// Face and Pose are shared by all recordings. Either may be nil.
	Face face.Detector
	Pose pose.Detector

	// Metrics receives per-recording instruments. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewRecordingManager creates a RecordingManager with no active recordings.
func NewRecordingManager(cfg RecordingManagerConfig) *RecordingManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &RecordingManager{
		recordings:    make(map[string]*recording),
		analysis:      cfg.Analysis,
		maxConcurrent: cfg.MaxConcurrent,
		face:          cfg.Face,
		pose:          cfg.Pose,
		metrics:       m,
		now:           time.Now,
	}
}

// Start creates a recording and launches its drain loop. An empty id gets a
// random UUID. The returned string is the recording's ID.
func (rm *RecordingManager) Start(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch {
	case rm.closed:
		return "", ErrShuttingDown
	case rm.recordings[id] != nil:
		return "", fmt.Errorf("%w: %q", ErrRecordingExists, id)
	case rm.maxConcurrent > 0 && len(rm.recordings) >= rm.maxConcurrent:
		return "", fmt.Errorf("%w (limit %d)", ErrTooManyRecordings, rm.maxConcurrent)
	}

	opts := []vision.Option{
		vision.WithMetrics(rm.metrics),
		vision.WithRecordingID(id),
	}
	if rm.face != nil {
		opts = append(opts, vision.WithFaceDetector(rm.face))
	}
	if rm.pose != nil {
		opts = append(opts, vision.WithPoseDetector(rm.pose))
	}
	proc, err := vision.New(rm.analysis, opts...)
	if err != nil {
		return "", fmt.Errorf("app: start recording %q: %w", id, err)
	}

	// The drain loop outlives the request that started the recording.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec := &recording{
		id:        id,
		proc:      proc,
		cancel:    cancel,
		startedAt: rm.now(),
		done:      make(chan struct{}),
	}
	rm.recordings[id] = rec

	go func() {
		defer close(rec.done)
		err := proc.Run(runCtx)
		switch {
		case err == nil,
			errors.Is(err, context.Canceled),
			errors.Is(err, vision.ErrStopped),
			errors.Is(err, vision.ErrFinalized):
		default:
			slog.Warn("app: drain loop exited", "recording_id", id, "err", err)
		}
	}()

	rm.metrics.ActiveRecordings.Add(ctx, 1)
	observe.Logger(ctx).Info("app: recording started",
		"recording_id", id,
		"active", len(rm.recordings),
	)
	return id, nil
}

// Enqueue hands one frame to the recording's processor.
func (rm *RecordingManager) Enqueue(id string, header *types.FrameHeader, image []byte) (vision.Admission, error) {
	rec, err := rm.get(id)
	if err != nil {
		return vision.RejectedClosed, err
	}
	return rec.proc.EnqueueFrame(header, image), nil
}

// Finalize produces the recording's report and removes it. The recording is
// removed even when finalization fails, since its processor cannot be
// finalized twice.
func (rm *RecordingManager) Finalize(ctx context.Context, id string, segments []types.TranscriptSegment) (*vision.VisualObservations, error) {
	rec, err := rm.get(id)
	if err != nil {
		return nil, err
	}
	defer rm.remove(ctx, rec)

	report, err := rec.proc.Finalize(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("app: finalize recording %q: %w", id, err)
	}
	return report, nil
}

// Stop ends a recording without producing a report.
func (rm *RecordingManager) Stop(ctx context.Context, id string) error {
	rec, err := rm.get(id)
	if err != nil {
		return err
	}
	rec.proc.Stop()
	rm.remove(ctx, rec)
	return nil
}

// Status returns the extended status of one recording.
func (rm *RecordingManager) Status(id string) (vision.ExtendedStatus, error) {
	rec, err := rm.get(id)
	if err != nil {
		return vision.ExtendedStatus{}, err
	}
	return rec.proc.ExtendedStatus(), nil
}

// List returns all active recordings ordered by start time.
func (rm *RecordingManager) List() []RecordingInfo {
	rm.mu.Lock()
	recs := make([]*recording, 0, len(rm.recordings))
	for _, rec := range rm.recordings {
		recs = append(recs, rec)
	}
	rm.mu.Unlock()

	slices.SortFunc(recs, func(a, b *recording) int {
		if c := a.startedAt.Compare(b.startedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	out := make([]RecordingInfo, len(recs))
	for i, rec := range recs {
		out[i] = RecordingInfo{
			ID:        rec.id,
			StartedAt: rec.startedAt,
			Status:    rec.proc.Status(),
		}
	}
	return out
}

// Len returns the number of active recordings.
func (rm *RecordingManager) Len() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.recordings)
}

// SetAnalysis replaces the analysis config used for recordings started from
// now on. Running recordings keep their config.
func (rm *RecordingManager) SetAnalysis(cfg vision.Config) error {
	if err := cfg.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("app: set analysis config: %w", err)
	}
	rm.mu.Lock()
	rm.analysis = cfg
	rm.mu.Unlock()
	return nil
}

// SetMaxConcurrent changes the concurrency limit. Recordings above a lowered
// limit keep running; only new starts are refused.
func (rm *RecordingManager) SetMaxConcurrent(n int) {
	rm.mu.Lock()
	rm.maxConcurrent = n
	rm.mu.Unlock()
}

// Shutdown refuses new recordings, stops every active one and waits for the
// drain loops to exit or ctx to expire.
func (rm *RecordingManager) Shutdown(ctx context.Context) error {
	rm.mu.Lock()
	rm.closed = true
	recs := make([]*recording, 0, len(rm.recordings))
	for _, rec := range rm.recordings {
		recs = append(recs, rec)
	}
	rm.mu.Unlock()

	for _, rec := range recs {
		rec.proc.Stop()
		rm.remove(ctx, rec)
	}
	for _, rec := range recs {
		select {
		case <-rec.done:
		case <-ctx.Done():
			return fmt.Errorf("app: shutdown recordings: %w", ctx.Err())
		}
	}
	if len(recs) > 0 {
		slog.Info("app: recordings stopped", "count", len(recs))
	}
	return nil
}

var _ ingest.Recorder = (*RecordingManager)(nil)

func (rm *RecordingManager) get(id string) (*recording, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rec := rm.recordings[id]
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", ErrRecordingNotFound, id)
	}
	return rec, nil
}

// remove deletes rec from the active set once. Concurrent Finalize and Stop
// calls for the same recording only decrement the gauge once.
func (rm *RecordingManager) remove(ctx context.Context, rec *recording) {
	rm.mu.Lock()
	if rm.recordings[rec.id] != rec {
		rm.mu.Unlock()
		return
	}
	delete(rm.recordings, rec.id)
	rm.mu.Unlock()

	rec.cancel()
	rm.metrics.ActiveRecordings.Add(context.WithoutCancel(ctx), -1)
	slog.Info("app: recording removed", "recording_id", rec.id)
}
