// Package vision turns a live stream of video frames into delivery-coaching
// signals.
//
// A [Processor] owns everything for one recording: a bounded [Buffer] that
// absorbs bursts without blocking the producer, two [Sampler]s for normal and
// degraded analysis rates, and the per-signal accumulators (gaze, gestures,
// body stability, facial energy, camera placement). Frames enter through
// [Processor.EnqueueFrame], are analyzed by the goroutine running
// [Processor.Run], and [Processor.Finalize] produces the single
// [VisualObservations] report.
//
// Only the drain goroutine mutates accumulator state. Admission counters,
// status and the buffer are guarded separately so producers and status
// readers never wait on detector calls.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

var (
	// ErrStopped is returned by operations on a processor after [Processor.Stop].
	ErrStopped = errors.New("vision: processor stopped")

	// ErrFinalized is returned when a processor is finalized twice or its
	// drain loop is started after finalization.
	ErrFinalized = errors.New("vision: processor already finalized")

	// ErrRunning is returned when [Processor.Run] is called a second time.
	ErrRunning = errors.New("vision: drain loop already started")
)

// Admission is the outcome of [Processor.EnqueueFrame].
type Admission int

const (
	// Admitted means the frame was buffered for analysis.
	Admitted Admission = iota

	// RejectedInvalid means the header or payload was malformed.
	RejectedInvalid

	// DroppedOutOfOrder means the frame repeated or regressed seq or
	// timestamp, or jumped further ahead than the stale threshold.
	DroppedOutOfOrder

	// DroppedBackpressure means the buffer was full.
	DroppedBackpressure

	// RejectedClosed means the processor was finalized or stopped.
	RejectedClosed
)

// String returns the human-readable name of the admission outcome.
func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case RejectedInvalid:
		return "invalid"
	case DroppedOutOfOrder:
		return "out_of_order"
	case DroppedBackpressure:
		return "backpressure"
	case RejectedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option is a functional option for [New].
type Option func(*Processor)

// WithFaceDetector enables face analysis (gaze, facial energy, camera
// placement).
func WithFaceDetector(d face.Detector) Option {
	return func(p *Processor) {
		p.face = d
	}
}

// WithPoseDetector enables pose analysis (gestures, body stability).
func WithPoseDetector(d pose.Detector) Option {
	return func(p *Processor) {
		p.pose = d
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithRecordingID tags log lines with the recording they belong to.
func WithRecordingID(id string) Option {
	return func(p *Processor) {
		p.recordingID = id
	}
}

// WithClock replaces the wall clock used for the degraded-mode cooldown and
// the finalize budget.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// counters are the frame outcome totals of one recording.
type counters struct {
	received          int
	admitted          int
	invalid           int
	droppedTimestamp  int
	analyzed          int
	skipped           int
	errored           int
	droppedFinalizing int
}

// accumulators is the cross-frame signal state. Only the goroutine draining
// the buffer touches it.
type accumulators struct {
	generation uint64

	gaze      gazeTracker
	gesture   gestureDetector
	stability stabilityTracker
	energy    energyTracker
	placement placementEstimator

	faceDetected       int
	faceConf, poseConf runningMean
}

// resetLookback clears the one-frame lookback state after a resolution change
// while keeping every cumulative aggregate.
func (a *accumulators) resetLookback() {
	a.gaze.resetSmoothing()
	a.gesture.resetLookback()
	a.energy.resetLookback()
}

type runningMean struct {
	sum float64
	n   int
}

func (m *runningMean) add(v float64) {
	m.sum += v
	m.n++
}

func (m runningMean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Processor ingests, samples and analyzes the frames of one recording.
// Create one per recording with [New]; processors share no state.
type Processor struct {
	cfg         Config
	configHash  string
	face        face.Detector
	pose        pose.Detector
	metrics     *observe.Metrics
	recordingID string
	now         func() time.Time

	buf      *Buffer
	normal   *Sampler
	degraded *Sampler

	// mu guards admission state, counters, mode and lifecycle flags.
	mu                sync.Mutex
	seenAny           bool
	lastSeq           int64
	lastTs            float64
	maxTs             float64
	lastWidth         int
	lastHeight        int
	generation        uint64
	resolutionChanges []float64
	cameraDrop        bool
	counts            counters
	mode              modeSwitch
	modeTransitions   int
	latency           latencyBuffer
	retention         retentionTracker
	running           bool
	finalized         bool
	stopped           bool

	halt     chan struct{}
	haltOnce sync.Once
	runDone  chan struct{}
	discard  atomic.Bool

	// expired is set once the finalize budget runs out while a frame is
	// in flight; cancelDetect aborts that frame's detector calls.
	expired      atomic.Bool
	cancelDetect context.CancelFunc

	acc accumulators
}

// New creates a Processor for one recording. cfg is completed with
// [Config.WithDefaults] and validated. At least one detector should be
// configured; without any, every analyzed frame classifies as gaze "other"
// and the report is graded poor.
func New(cfg Config, opts ...Option) (*Processor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hash, err := Fingerprint(cfg)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:        cfg,
		configHash: hash,
		metrics:    observe.DefaultMetrics(),
		now:        time.Now,
		buf:        NewBuffer(cfg.BufferCapacity),
		normal:     NewSampler(cfg.SampleRate),
		degraded:   NewSampler(cfg.SampleRate / 2),
		mode:       newModeSwitch(cfg.OverloadRatio, cfg.RecoveryRatio, cfg.DegradedCooldown),
		latency:    newLatencyBuffer(latencyWindow),
		retention:  newRetentionTracker(cfg.RetentionWindowSeconds),
		halt:       make(chan struct{}),
		runDone:    make(chan struct{}),
		acc: accumulators{
			gaze:      newGazeTracker(cfg),
			gesture:   newGestureDetector(cfg),
			stability: newStabilityTracker(cfg),
			energy:    newEnergyTracker(cfg),
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Config returns the thresholds this processor runs with.
func (p *Processor) Config() Config {
	return p.cfg
}

// ── Admission ─────────────────────────────────────────────────────────────────

// EnqueueFrame validates a frame and buffers it for analysis. It never blocks
// and never fails loudly: every rejection is reflected in the counters and in
// the returned [Admission].
func (p *Processor) EnqueueFrame(header *types.FrameHeader, image []byte) Admission {
	ctx := context.Background()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized || p.stopped {
		return RejectedClosed
	}
	p.counts.received++
	p.metrics.FramesReceived.Add(ctx, 1)

	if header == nil || !validTimestamp(header.Timestamp) || header.Seq < 0 ||
		header.Width <= 0 || header.Height <= 0 || len(image) == 0 {
		p.counts.invalid++
		p.counts.errored++
		p.metrics.RecordFrameDropped(ctx, observe.DropInvalid, 1)
		slog.Debug("vision: rejected malformed frame", "recording_id", p.recordingID)
		return RejectedInvalid
	}

	h := *header
	if p.seenAny {
		var reason string
		switch {
		case h.Seq <= p.lastSeq:
			reason = "seq not increasing"
		case h.Timestamp <= p.lastTs:
			reason = "timestamp not increasing"
		case h.Timestamp-p.lastTs > p.cfg.StaleFrameSeconds:
			reason = "timestamp jump"
			// Ordering stays anchored on the last admitted frame.
			p.cameraDrop = true
		}
		if reason != "" {
			p.counts.droppedTimestamp++
			p.metrics.RecordFrameDropped(ctx, observe.DropTimestamp, 1)
			slog.Debug("vision: dropped out-of-order frame",
				"recording_id", p.recordingID,
				"seq", h.Seq,
				"timestamp", h.Timestamp,
				"reason", reason,
			)
			return DroppedOutOfOrder
		}
		if h.Timestamp-p.lastTs > p.cfg.CameraDropTimeoutSeconds {
			p.cameraDrop = true
		}
	}

	if p.seenAny && (h.Width != p.lastWidth || h.Height != p.lastHeight) {
		p.generation++
		p.resolutionChanges = append(p.resolutionChanges, h.Timestamp)
		slog.Info("vision: resolution changed",
			"recording_id", p.recordingID,
			"timestamp", h.Timestamp,
			"from", fmt.Sprintf("%dx%d", p.lastWidth, p.lastHeight),
			"to", fmt.Sprintf("%dx%d", h.Width, h.Height),
		)
	}
	p.seenAny = true
	p.lastSeq, p.lastTs = h.Seq, h.Timestamp
	p.lastWidth, p.lastHeight = h.Width, h.Height
	p.maxTs = math.Max(p.maxTs, h.Timestamp)

	if !p.buf.push(QueuedFrame{Header: h, Image: image, generation: p.generation}) {
		p.retention.record(h.Timestamp, outcomeDropped)
		p.metrics.RecordFrameDropped(ctx, observe.DropBackpressure, 1)
		return DroppedBackpressure
	}
	p.counts.admitted++
	return Admitted
}

func validTimestamp(ts float64) bool {
	return ts >= 0 && !math.IsInf(ts, 0)
}

// ── Drain loop ────────────────────────────────────────────────────────────────

// Run drains the buffer until ctx is cancelled, [Processor.Stop] is called or
// [Processor.Finalize] takes over. Per-frame failures are counted and never
// end the loop. Run returns nil on stop or finalize and ctx.Err() on
// cancellation.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.stopped:
		p.mu.Unlock()
		return ErrStopped
	case p.finalized:
		p.mu.Unlock()
		return ErrFinalized
	case p.running:
		p.mu.Unlock()
		return ErrRunning
	}
	ctx = observe.WithRecordingID(ctx, p.recordingID)
	detectCtx, cancelDetect := context.WithCancel(ctx)
	defer cancelDetect()
	p.running = true
	p.cancelDetect = cancelDetect
	p.mu.Unlock()
	defer close(p.runDone)

	idle := time.NewTimer(p.cfg.DrainIdleInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.halt:
			return nil
		default:
		}

		f, ok := p.buf.Dequeue()
		if !ok {
			idle.Reset(p.cfg.DrainIdleInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.halt:
				return nil
			case <-idle.C:
			}
			continue
		}
		p.step(detectCtx, f)
	}
}

// step re-evaluates the sampling mode and runs one frame through the
// pipeline with the effective sampler.
func (p *Processor) step(ctx context.Context, f QueuedFrame) {
	p.mu.Lock()
	changed := p.mode.evaluate(p.backpressureRatioLocked(), p.now())
	mode := p.mode.mode
	if changed {
		p.modeTransitions++
	}
	p.mu.Unlock()

	if changed {
		p.metrics.RecordModeTransition(ctx, mode.String())
		slog.Info("vision: sampling mode changed",
			"recording_id", p.recordingID,
			"mode", mode.String(),
			"timestamp", f.Header.Timestamp,
		)
	}

	sampler := p.normal
	if mode == ModeDegraded {
		sampler = p.degraded
	}
	p.processFrame(ctx, f, sampler)
}

// backpressureRatioLocked returns backpressure drops over frames that passed
// the ordering checks. p.mu must be held.
func (p *Processor) backpressureRatioLocked() float64 {
	denom := p.counts.received - p.counts.droppedTimestamp
	if denom <= 0 {
		return 0
	}
	return float64(p.buf.Dropped()) / float64(denom)
}

// ── Per-frame pipeline ────────────────────────────────────────────────────────

func (p *Processor) processFrame(ctx context.Context, f QueuedFrame, sampler *Sampler) {
	if f.generation != p.acc.generation {
		p.acc.resetLookback()
		p.acc.generation = f.generation
	}

	if !sampler.ShouldSample(f.Header.Timestamp) {
		p.mu.Lock()
		p.counts.skipped++
		p.mu.Unlock()
		p.metrics.FramesSkipped.Add(ctx, 1)
		return
	}

	ctx, span := observe.StartSpan(ctx, "vision.AnalyzeFrame",
		attribute.Int64("frame.seq", f.Header.Seq),
		attribute.Float64("frame.timestamp", f.Header.Timestamp),
	)
	start := time.Now()
	fd, pd, err := p.detect(ctx, f)
	elapsed := time.Since(start)
	defer func() { observe.EndSpan(span, err) }()

	// A hard stop discards whatever the in-flight call produced.
	if p.discard.Load() {
		return
	}
	if p.expired.Load() {
		p.mu.Lock()
		p.counts.droppedFinalizing++
		p.retention.record(f.Header.Timestamp, outcomeDropped)
		p.mu.Unlock()
		p.metrics.RecordFrameDropped(ctx, observe.DropFinalization, 1)
		return
	}
	if err == nil {
		err = p.accumulate(f.Header, fd, pd)
	}
	span.SetAttributes(
		attribute.Bool("face.detected", fd != nil),
		attribute.Bool("pose.detected", pd != nil),
	)

	p.mu.Lock()
	if err != nil {
		p.counts.errored++
		p.retention.record(f.Header.Timestamp, outcomeErrored)
	} else {
		p.counts.analyzed++
		p.retention.record(f.Header.Timestamp, outcomeAnalyzed)
		p.latency.add(elapsed)
	}
	p.mu.Unlock()

	if err != nil {
		p.metrics.FramesErrored.Add(ctx, 1)
		slog.Warn("vision: frame analysis failed",
			"recording_id", p.recordingID,
			"seq", f.Header.Seq,
			"timestamp", f.Header.Timestamp,
			"err", err,
		)
		return
	}
	p.metrics.FramesAnalyzed.Add(ctx, 1)
}

// detect runs the configured detectors concurrently. Either result may be nil.
func (p *Processor) detect(ctx context.Context, f QueuedFrame) (*face.Detection, *pose.Detection, error) {
	var (
		fd *face.Detection
		pd *pose.Detection
		g  errgroup.Group
	)
	if p.face != nil {
		g.Go(func() error {
			start := time.Now()
			d, err := p.face.Detect(ctx, f.Image, f.Header.Width, f.Header.Height)
			p.observeCall(ctx, "face", f.Header, time.Since(start), err)
			if err != nil {
				return fmt.Errorf("vision: face detector: %w", err)
			}
			fd = d
			return nil
		})
	}
	if p.pose != nil {
		g.Go(func() error {
			start := time.Now()
			d, err := p.pose.Detect(ctx, f.Image, f.Header.Width, f.Header.Height)
			p.observeCall(ctx, "pose", f.Header, time.Since(start), err)
			if err != nil {
				return fmt.Errorf("vision: pose detector: %w", err)
			}
			pd = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return fd, pd, nil
}

func (p *Processor) observeCall(ctx context.Context, detector string, h types.FrameHeader, d time.Duration, err error) {
	p.metrics.RecordDetectorCall(ctx, detector, d, err)
	if p.cfg.SlowDetectorThreshold > 0 && d > p.cfg.SlowDetectorThreshold {
		slog.Warn("vision: slow detector call",
			"recording_id", p.recordingID,
			"detector", detector,
			"seq", h.Seq,
			"duration", d,
			"threshold", p.cfg.SlowDetectorThreshold,
		)
	}
}

// accumulate feeds one frame's detections into every signal accumulator.
// Detections are checked before any state changes so a malformed result
// fails the frame without a partial update.
func (p *Processor) accumulate(h types.FrameHeader, fd *face.Detection, pd *pose.Detection) error {
	if err := checkFace(fd); err != nil {
		return err
	}
	if err := checkPose(pd); err != nil {
		return err
	}

	a := &p.acc
	var validFace *face.Detection
	if fd != nil {
		a.faceConf.add(fd.Confidence)
		if fd.Confidence >= p.cfg.FaceConfidence {
			a.faceDetected++
			if fd.HasLandmarks() {
				validFace = fd
			}
		}
	}
	var validPose *pose.Detection
	if pd != nil {
		a.poseConf.add(pd.Confidence)
		if pd.Confidence >= p.cfg.PoseConfidence {
			validPose = pd
		}
	}

	a.gaze.update(h, fd)
	a.gesture.update(h.Timestamp, validPose)
	a.stability.update(h.Timestamp, validPose, h.Width, h.Height)
	if validFace != nil {
		a.energy.update(h.Timestamp, validFace)
		a.placement.update(validFace)
	}
	return nil
}

func checkFace(d *face.Detection) error {
	if d == nil {
		return nil
	}
	vals := []float64{d.Confidence, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height}
	for _, pt := range d.Landmarks {
		vals = append(vals, pt.X, pt.Y)
	}
	if !allFinite(vals) {
		return errors.New("vision: face detection contains non-finite values")
	}
	return nil
}

func checkPose(d *pose.Detection) error {
	if d == nil {
		return nil
	}
	vals := []float64{d.Confidence}
	for _, kp := range d.Keypoints {
		vals = append(vals, kp.X, kp.Y, kp.Confidence)
	}
	if !allFinite(vals) {
		return errors.New("vision: pose detection contains non-finite values")
	}
	return nil
}

func allFinite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Finalize stops the drain loop, keeps analyzing buffered frames until the
// finalize budget expires, discards and counts whatever is left and returns
// the recording's report. segments are the final transcript segments of the
// same recording and may be nil.
func (p *Processor) Finalize(ctx context.Context, segments []types.TranscriptSegment) (report *VisualObservations, err error) {
	started := time.Now()
	ctx, span := observe.StartSpan(observe.WithRecordingID(ctx, p.recordingID), "vision.Finalize")
	defer func() { observe.EndSpan(span, err) }()

	p.mu.Lock()
	switch {
	case p.stopped:
		p.mu.Unlock()
		return nil, ErrStopped
	case p.finalized:
		p.mu.Unlock()
		return nil, ErrFinalized
	}
	p.finalized = true
	running := p.running
	cancelDetect := p.cancelDetect
	p.mu.Unlock()

	deadline := p.now().Add(p.cfg.FinalizeBudget)
	p.haltOnce.Do(func() { close(p.halt) })
	if running {
		budget := time.NewTimer(p.cfg.FinalizeBudget)
		defer budget.Stop()
		select {
		case <-p.runDone:
		case <-budget.C:
			// The budget ran out with a frame still in flight.
			p.expired.Store(true)
			cancelDetect()
			select {
			case <-p.runDone:
			case <-ctx.Done():
				return nil, fmt.Errorf("vision: finalize: %w", ctx.Err())
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("vision: finalize: %w", ctx.Err())
		}
	}

	drained := 0
	for !p.expired.Load() && p.now().Before(deadline) {
		if p.discard.Load() {
			return nil, ErrStopped
		}
		f, ok := p.buf.Dequeue()
		if !ok {
			break
		}
		p.step(ctx, f)
		drained++
	}
	discarded := p.discardRemaining(ctx)

	report = p.buildReport(segments)
	p.metrics.FinalizeDuration.Record(ctx, time.Since(started).Seconds())
	span.SetAttributes(
		attribute.Int("frames.analyzed", report.FramesAnalyzed),
		attribute.Int("frames.discarded", discarded),
		attribute.String("quality", string(report.VideoQualityGrade)),
	)
	observe.Logger(ctx).Info("vision: recording finalized",
		"drained", drained,
		"discarded", discarded,
		"frames_analyzed", report.FramesAnalyzed,
		"quality", string(report.VideoQualityGrade),
	)
	return report, nil
}

// discardRemaining empties the buffer after the finalize budget and counts
// every frame left behind.
func (p *Processor) discardRemaining(ctx context.Context) int {
	n := 0
	p.mu.Lock()
	for {
		f, ok := p.buf.Dequeue()
		if !ok {
			break
		}
		p.counts.droppedFinalizing++
		p.retention.record(f.Header.Timestamp, outcomeDropped)
		n++
	}
	p.mu.Unlock()
	p.metrics.RecordFrameDropped(ctx, observe.DropFinalization, n)
	return n
}

// Stop ends the recording without a report. The drain loop exits, buffered
// frames are cleared immediately and the result of an in-flight detector
// call is discarded when it completes. Stop is idempotent.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.discard.Store(true)
	p.haltOnce.Do(func() { close(p.halt) })
	n := p.buf.Clear()
	slog.Info("vision: processor stopped", "recording_id", p.recordingID, "cleared", n)
}

// Done is closed when the drain loop started by [Processor.Run] has exited. It
// is never closed if Run was not called.
func (p *Processor) Done() <-chan struct{} {
	return p.runDone
}
