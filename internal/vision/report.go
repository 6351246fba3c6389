package vision

import (
	"math"

	"github.com/MrWong99/poise/pkg/types"
)

// GazeBreakdown is the share of analyzed frames per gaze class, in percent.
type GazeBreakdown struct {
	AudiencePct float64 `json:"audience_pct"`
	NotesPct    float64 `json:"notes_pct"`
	OtherPct    float64 `json:"other_pct"`
}

// MovementBreakdown is the share of stability windows per movement class, in
// percent.
type MovementBreakdown struct {
	StationaryPct float64 `json:"stationary_pct"`
	ModeratePct   float64 `json:"moderate_pct"`
	HighPct       float64 `json:"high_pct"`
}

// SignalFlags holds one boolean per signal family.
type SignalFlags struct {
	Gaze         bool `json:"gaze"`
	Gesture      bool `json:"gesture"`
	Stability    bool `json:"stability"`
	FacialEnergy bool `json:"facial_energy"`
}

// SignalCoverage holds the fraction of analyzed frames that produced a valid
// sample, per signal family.
type SignalCoverage struct {
	Gaze         float64 `json:"gaze"`
	Gesture      float64 `json:"gesture"`
	Stability    float64 `json:"stability"`
	FacialEnergy float64 `json:"facial_energy"`
}

// DetectorConfidence is the mean raw confidence of every detection returned.
type DetectorConfidence struct {
	Face float64 `json:"face"`
	Pose float64 `json:"pose"`
}

// VisualObservations is the final report of one recording. It is built once
// by [Processor.Finalize] and never modified.
type VisualObservations struct {
	FramesReceived              int `json:"frames_received"`
	FramesAnalyzed              int `json:"frames_analyzed"`
	FramesSkipped               int `json:"frames_skipped"`
	FramesErrored               int `json:"frames_errored"`
	FramesDroppedByTimestamp    int `json:"frames_dropped_by_timestamp"`
	FramesDroppedByBackpressure int `json:"frames_dropped_by_backpressure"`
	FramesDroppedByFinalization int `json:"frames_dropped_by_finalization"`

	// DurationSeconds is the largest timestamp that passed the ordering checks.
	DurationSeconds float64 `json:"duration_seconds"`
	SamplingMode    string  `json:"sampling_mode"`

	Gaze GazeBreakdown `json:"gaze"`

	GestureCount      int     `json:"gesture_count"`
	GesturesPerMinute float64 `json:"gestures_per_minute"`

	// GesturesPerSegment is nil when no transcript was given, the transcript
	// is too sparse, or frame retention fell below threshold in any window.
	GesturesPerSegment *float64 `json:"gestures_per_segment"`

	MeanBodyStabilityScore float64           `json:"mean_body_stability_score"`
	MovementClassification string            `json:"movement_classification"`
	Movement               MovementBreakdown `json:"movement"`
	StageCrossings         int               `json:"stage_crossings"`

	FacialEnergyMean      float64 `json:"facial_energy_mean"`
	FacialEnergyVariation float64 `json:"facial_energy_variation"`
	FacialEnergyLowSignal bool    `json:"facial_energy_low_signal"`

	VideoQualityGrade  QualityGrade `json:"video_quality_grade"`
	CameraDropDetected bool         `json:"camera_drop_detected"`
	ResolutionChanges  int          `json:"resolution_changes"`

	// CameraAngleDeg is nil when no frame had a usable face.
	CameraAngleDeg   *float64 `json:"camera_angle_deg"`
	NonFrontalCamera bool     `json:"non_frontal_camera"`

	Reliable   SignalFlags        `json:"reliable"`
	Coverage   SignalCoverage     `json:"coverage"`
	Confidence DetectorConfidence `json:"confidence"`

	Version Version `json:"version"`
}

// buildReport aggregates every accumulator. The drain loop must have exited.
func (p *Processor) buildReport(segments []types.TranscriptSegment) *VisualObservations {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.cfg
	a := &p.acc
	c := p.counts
	prec := cfg.RoundingPrecision
	duration := p.maxTs

	r := &VisualObservations{
		FramesReceived:              c.received,
		FramesAnalyzed:              c.analyzed,
		FramesSkipped:               c.skipped,
		FramesErrored:               c.errored,
		FramesDroppedByTimestamp:    c.droppedTimestamp,
		FramesDroppedByBackpressure: p.buf.Dropped(),
		FramesDroppedByFinalization: c.droppedFinalizing,
		DurationSeconds:             duration,
		SamplingMode:                p.mode.mode.String(),
		CameraDropDetected:          p.cameraDrop,
		ResolutionChanges:           len(p.resolutionChanges),
		Version:                     Version{Schema: SchemaVersion, ConfigHash: p.configHash},
	}

	// Gaze.
	g := percentages([3]int{a.gaze.audience, a.gaze.notes, a.gaze.other}, prec)
	r.Gaze = GazeBreakdown{AudiencePct: g[0], NotesPct: g[1], OtherPct: g[2]}

	// Gestures.
	r.GestureCount = len(a.gesture.events)
	if duration > 0 {
		r.GesturesPerMinute = round(float64(r.GestureCount)/(duration/60), prec)
	}
	r.GesturesPerSegment = p.gesturesPerSegmentLocked(len(segments), r.GestureCount, duration)

	// Body stability.
	windows := stabilityWindows(a.stability.samples, cfg.StabilityWindowSeconds, cfg.MinWindowSamples)
	r.MeanBodyStabilityScore = 1
	var classes [3]int
	if len(windows) > 0 {
		var sum float64
		for _, w := range windows {
			sum += w.score
			switch movementClass(w.score) {
			case MovementStationary:
				classes[0]++
			case MovementModerate:
				classes[1]++
			default:
				classes[2]++
			}
		}
		r.MeanBodyStabilityScore = sum / float64(len(windows))
	} else {
		classes[0] = 1
	}
	r.MovementClassification = movementClass(r.MeanBodyStabilityScore)
	m := percentages(classes, prec)
	r.Movement = MovementBreakdown{StationaryPct: m[0], ModeratePct: m[1], HighPct: m[2]}
	r.StageCrossings = stageCrossings(windows, cfg.StageCrossingFraction, p.resolutionChanges)

	// Facial energy.
	e := a.energy.summarize(cfg.EnergyEpsilon)
	r.FacialEnergyMean = e.mean
	r.FacialEnergyVariation = e.variation
	r.FacialEnergyLowSignal = e.lowSignal

	// Quality.
	rate := p.normal.Rate()
	if p.mode.mode == ModeDegraded {
		rate = p.degraded.Rate()
	}
	r.VideoQualityGrade = gradeQuality(qualityInputs{
		hasFace:      p.face != nil,
		hasPose:      p.pose != nil,
		expected:     duration * rate,
		analyzed:     c.analyzed,
		faceDetected: a.faceDetected,
		cameraDrop:   p.cameraDrop,
	})

	// Camera placement.
	if angle, ok := a.placement.angle(); ok {
		angle = round(angle, prec)
		r.CameraAngleDeg = &angle
		r.NonFrontalCamera = angle > cfg.NonFrontalDegrees
	}

	// Coverage and reliability.
	if c.analyzed > 0 {
		n := float64(c.analyzed)
		r.Coverage = SignalCoverage{
			Gaze:         float64(a.gaze.valid) / n,
			Gesture:      float64(a.gesture.valid) / n,
			Stability:    float64(len(a.stability.samples)) / n,
			FacialEnergy: float64(len(a.energy.deltas)) / n,
		}
		th := cfg.SignalCoverageThreshold
		r.Reliable = SignalFlags{
			Gaze:         r.Coverage.Gaze >= th,
			Gesture:      r.Coverage.Gesture >= th,
			Stability:    r.Coverage.Stability >= th,
			FacialEnergy: r.Coverage.FacialEnergy >= th,
		}
	}
	r.Confidence = DetectorConfidence{Face: a.faceConf.value(), Pose: a.poseConf.value()}

	return r
}

// gesturesPerSegmentLocked relates gesture events to transcript segments. The
// ratio is withheld when it would be misleading. p.mu must be held.
func (p *Processor) gesturesPerSegmentLocked(segments, events int, duration float64) *float64 {
	if segments == 0 {
		return nil
	}
	if minutes := duration / 60; minutes > 0 && float64(segments)/minutes < p.cfg.MinSegmentsPerMinute {
		return nil
	}
	if p.retention.below(p.cfg.RetentionThreshold) {
		return nil
	}
	v := float64(events) / float64(segments)
	return &v
}

// percentages converts counts into rounded percentages. The last value is the
// remainder so the three always sum to 100 when any count is non-zero.
func percentages(counts [3]int, precision int) [3]float64 {
	total := counts[0] + counts[1] + counts[2]
	if total == 0 {
		return [3]float64{}
	}
	a := round(100*float64(counts[0])/float64(total), precision)
	b := round(100*float64(counts[1])/float64(total), precision)
	return [3]float64{a, b, round(100-a-b, precision)}
}

func round(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}
