package vision

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the analysis thresholds for one recording. A [Processor] copies
// its Config at construction and never observes later changes.
type Config struct {
	// SampleRate is the normal-mode analysis rate in frames per second. The
	// degraded sampler runs at half this rate.
	SampleRate float64 `yaml:"sample_rate"`

	// BufferCapacity is the number of admitted frames that may wait for
	// analysis before new frames are dropped.
	BufferCapacity int `yaml:"buffer_capacity"`

	// FaceConfidence and PoseConfidence gate detections and pose keypoints.
	FaceConfidence float64 `yaml:"face_confidence"`
	PoseConfidence float64 `yaml:"pose_confidence"`

	// MinFaceAreaRatio is the minimum face bounding box area as a fraction of
	// the frame area for a face to count towards gaze.
	MinFaceAreaRatio float64 `yaml:"min_face_area_ratio"`

	// GazeSmoothing is the EMA factor applied to yaw and pitch.
	GazeSmoothing float64 `yaml:"gaze_smoothing"`

	// YawThresholdDeg and PitchThresholdDeg bound the audience-facing cone.
	// Pitch below PitchThresholdDeg classifies as notes-facing.
	YawThresholdDeg   float64 `yaml:"yaw_threshold_deg"`
	PitchThresholdDeg float64 `yaml:"pitch_threshold_deg"`

	// GazeResetSeconds is the occlusion length after which smoothing restarts.
	GazeResetSeconds float64 `yaml:"gaze_reset_seconds"`

	// GestureThreshold is the hand displacement, relative to body height,
	// that counts as a gesture.
	GestureThreshold float64 `yaml:"gesture_threshold"`

	StabilityWindowSeconds float64 `yaml:"stability_window_seconds"`
	MinWindowSamples       int     `yaml:"min_window_samples"`

	// DeadZone snaps body-center samples that moved less than this fraction
	// of the unit diagonal. Zero disables snapping.
	DeadZone float64 `yaml:"dead_zone"`

	// StageCrossingFraction is the horizontal centroid shift, as a fraction
	// of frame width, between two windows that counts as a stage crossing.
	StageCrossingFraction float64 `yaml:"stage_crossing_fraction"`

	// CalibrationSeconds is the leading stretch of video time used to measure
	// the facial-energy noise floor.
	CalibrationSeconds float64 `yaml:"calibration_seconds"`
	EnergyEpsilon      float64 `yaml:"energy_epsilon"`

	// StaleFrameSeconds rejects frames that jump further ahead than this.
	StaleFrameSeconds float64 `yaml:"stale_frame_seconds"`

	// OverloadRatio and RecoveryRatio are the backpressure ratios that enter
	// and leave degraded sampling. Leaving also requires DegradedCooldown.
	OverloadRatio    float64       `yaml:"overload_ratio"`
	RecoveryRatio    float64       `yaml:"recovery_ratio"`
	DegradedCooldown time.Duration `yaml:"degraded_cooldown"`

	// FinalizeBudget is the wall-clock time Finalize spends draining.
	FinalizeBudget time.Duration `yaml:"finalize_budget"`

	// DrainIdleInterval is how long the drain loop waits on an empty buffer.
	DrainIdleInterval time.Duration `yaml:"drain_idle_interval"`

	RetentionWindowSeconds float64 `yaml:"retention_window_seconds"`
	RetentionThreshold     float64 `yaml:"retention_threshold"`

	// MinSegmentsPerMinute is the transcript density below which the
	// gesture-per-segment ratio is withheld.
	MinSegmentsPerMinute float64 `yaml:"min_segments_per_minute"`

	SignalCoverageThreshold  float64 `yaml:"signal_coverage_threshold"`
	CameraDropTimeoutSeconds float64 `yaml:"camera_drop_timeout_seconds"`
	NonFrontalDegrees        float64 `yaml:"non_frontal_degrees"`

	// SlowDetectorThreshold marks detector calls that are logged as slow.
	SlowDetectorThreshold time.Duration `yaml:"slow_detector_threshold"`

	// RoundingPrecision is the number of decimals kept in percentages.
	RoundingPrecision int `yaml:"rounding_precision"`
}

// DefaultConfig returns the recommended analysis thresholds.
func DefaultConfig() Config {
	return Config{
		SampleRate:               5,
		BufferCapacity:           30,
		FaceConfidence:           0.5,
		PoseConfidence:           0.3,
		MinFaceAreaRatio:         0.01,
		GazeSmoothing:            0.5,
		YawThresholdDeg:          20,
		PitchThresholdDeg:        -10,
		GazeResetSeconds:         1,
		GestureThreshold:         0.15,
		StabilityWindowSeconds:   5,
		MinWindowSamples:         3,
		DeadZone:                 0.01,
		StageCrossingFraction:    0.25,
		CalibrationSeconds:       3,
		EnergyEpsilon:            1e-6,
		StaleFrameSeconds:        2,
		OverloadRatio:            0.2,
		RecoveryRatio:            0.05,
		DegradedCooldown:         5 * time.Second,
		FinalizeBudget:           3 * time.Second,
		DrainIdleInterval:        5 * time.Millisecond,
		RetentionWindowSeconds:   5,
		RetentionThreshold:       0.5,
		MinSegmentsPerMinute:     1,
		SignalCoverageThreshold:  0.5,
		CameraDropTimeoutSeconds: 1,
		NonFrontalDegrees:        30,
		SlowDetectorThreshold:    500 * time.Millisecond,
		RoundingPrecision:        1,
	}
}

// WithDefaults returns a copy of c with every zero field that has no
// meaningful zero value replaced by its default. PitchThresholdDeg, DeadZone
// and RoundingPrecision are kept as given because zero is valid for them.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	setF := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setD := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}
	setF(&c.SampleRate, d.SampleRate)
	if c.BufferCapacity == 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	setF(&c.FaceConfidence, d.FaceConfidence)
	setF(&c.PoseConfidence, d.PoseConfidence)
	setF(&c.MinFaceAreaRatio, d.MinFaceAreaRatio)
	setF(&c.GazeSmoothing, d.GazeSmoothing)
	setF(&c.YawThresholdDeg, d.YawThresholdDeg)
	setF(&c.GazeResetSeconds, d.GazeResetSeconds)
	setF(&c.GestureThreshold, d.GestureThreshold)
	setF(&c.StabilityWindowSeconds, d.StabilityWindowSeconds)
	if c.MinWindowSamples == 0 {
		c.MinWindowSamples = d.MinWindowSamples
	}
	setF(&c.StageCrossingFraction, d.StageCrossingFraction)
	setF(&c.CalibrationSeconds, d.CalibrationSeconds)
	setF(&c.EnergyEpsilon, d.EnergyEpsilon)
	setF(&c.StaleFrameSeconds, d.StaleFrameSeconds)
	setF(&c.OverloadRatio, d.OverloadRatio)
	setF(&c.RecoveryRatio, d.RecoveryRatio)
	setD(&c.DegradedCooldown, d.DegradedCooldown)
	setD(&c.FinalizeBudget, d.FinalizeBudget)
	setD(&c.DrainIdleInterval, d.DrainIdleInterval)
	setF(&c.RetentionWindowSeconds, d.RetentionWindowSeconds)
	setF(&c.RetentionThreshold, d.RetentionThreshold)
	setF(&c.MinSegmentsPerMinute, d.MinSegmentsPerMinute)
	setF(&c.SignalCoverageThreshold, d.SignalCoverageThreshold)
	setF(&c.CameraDropTimeoutSeconds, d.CameraDropTimeoutSeconds)
	setF(&c.NonFrontalDegrees, d.NonFrontalDegrees)
	setD(&c.SlowDetectorThreshold, d.SlowDetectorThreshold)
	return c
}

// Validate checks c for out-of-range values and returns every problem found
// joined into one error.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s must be a positive number, got %v", name, v))
		}
	}
	unit := func(name string, v float64) {
		if !(v >= 0 && v <= 1) {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, v))
		}
	}

	positive("sample_rate", c.SampleRate)
	if c.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("buffer_capacity must be positive, got %d", c.BufferCapacity))
	}
	unit("face_confidence", c.FaceConfidence)
	unit("pose_confidence", c.PoseConfidence)
	unit("min_face_area_ratio", c.MinFaceAreaRatio)
	if !(c.GazeSmoothing > 0 && c.GazeSmoothing <= 1) {
		errs = append(errs, fmt.Errorf("gaze_smoothing must be within (0, 1], got %v", c.GazeSmoothing))
	}
	positive("yaw_threshold_deg", c.YawThresholdDeg)
	if math.IsNaN(c.PitchThresholdDeg) || math.Abs(c.PitchThresholdDeg) > 90 {
		errs = append(errs, fmt.Errorf("pitch_threshold_deg must be within [-90, 90], got %v", c.PitchThresholdDeg))
	}
	positive("gaze_reset_seconds", c.GazeResetSeconds)
	positive("gesture_threshold", c.GestureThreshold)
	positive("stability_window_seconds", c.StabilityWindowSeconds)
	if c.MinWindowSamples < 1 {
		errs = append(errs, fmt.Errorf("min_window_samples must be at least 1, got %d", c.MinWindowSamples))
	}
	unit("dead_zone", c.DeadZone)
	unit("stage_crossing_fraction", c.StageCrossingFraction)
	if !(c.CalibrationSeconds >= 0) {
		errs = append(errs, fmt.Errorf("calibration_seconds must not be negative, got %v", c.CalibrationSeconds))
	}
	positive("energy_epsilon", c.EnergyEpsilon)
	positive("stale_frame_seconds", c.StaleFrameSeconds)
	unit("overload_ratio", c.OverloadRatio)
	unit("recovery_ratio", c.RecoveryRatio)
	if c.RecoveryRatio >= c.OverloadRatio {
		errs = append(errs, fmt.Errorf("recovery_ratio (%v) must be below overload_ratio (%v)", c.RecoveryRatio, c.OverloadRatio))
	}
	if c.DegradedCooldown < 0 {
		errs = append(errs, fmt.Errorf("degraded_cooldown must not be negative, got %s", c.DegradedCooldown))
	}
	if c.FinalizeBudget <= 0 {
		errs = append(errs, fmt.Errorf("finalize_budget must be positive, got %s", c.FinalizeBudget))
	}
	if c.DrainIdleInterval <= 0 {
		errs = append(errs, fmt.Errorf("drain_idle_interval must be positive, got %s", c.DrainIdleInterval))
	}
	positive("retention_window_seconds", c.RetentionWindowSeconds)
	unit("retention_threshold", c.RetentionThreshold)
	if !(c.MinSegmentsPerMinute >= 0) {
		errs = append(errs, fmt.Errorf("min_segments_per_minute must not be negative, got %v", c.MinSegmentsPerMinute))
	}
	unit("signal_coverage_threshold", c.SignalCoverageThreshold)
	positive("camera_drop_timeout_seconds", c.CameraDropTimeoutSeconds)
	if !(c.NonFrontalDegrees > 0 && c.NonFrontalDegrees < 90) {
		errs = append(errs, fmt.Errorf("non_frontal_degrees must be within (0, 90), got %v", c.NonFrontalDegrees))
	}
	if c.SlowDetectorThreshold < 0 {
		errs = append(errs, fmt.Errorf("slow_detector_threshold must not be negative, got %s", c.SlowDetectorThreshold))
	}
	if c.RoundingPrecision < 0 || c.RoundingPrecision > 6 {
		errs = append(errs, fmt.Errorf("rounding_precision must be within [0, 6], got %d", c.RoundingPrecision))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("vision: invalid config: %w", errors.Join(errs...))
}
