package vision

// Status is a point-in-time view of a processor's counters.
type Status struct {
	FramesReceived              int    `json:"frames_received"`
	FramesAdmitted              int    `json:"frames_admitted"`
	FramesAnalyzed              int    `json:"frames_analyzed"`
	FramesSkipped               int    `json:"frames_skipped"`
	FramesErrored               int    `json:"frames_errored"`
	FramesDroppedByTimestamp    int    `json:"frames_dropped_by_timestamp"`
	FramesDroppedByBackpressure int    `json:"frames_dropped_by_backpressure"`
	FramesDroppedByFinalization int    `json:"frames_dropped_by_finalization"`
	BufferDepth                 int    `json:"buffer_depth"`
	Mode                        string `json:"mode"`
	Running                     bool   `json:"running"`
	Finalized                   bool   `json:"finalized"`
	Stopped                     bool   `json:"stopped"`
}

// ExtendedStatus adds load and quality diagnostics to [Status].
type ExtendedStatus struct {
	Status

	BufferCapacity    int     `json:"buffer_capacity"`
	BackpressureRatio float64 `json:"backpressure_ratio"`
	ModeTransitions   int     `json:"mode_transitions"`

	// LatencyMeanMs and LatencyP95Ms cover the last ten analyzed frames.
	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`

	ResolutionChanges  int               `json:"resolution_changes"`
	CameraDropDetected bool              `json:"camera_drop_detected"`
	LastTimestamp      float64           `json:"last_timestamp"`
	RetentionWindows   []RetentionWindow `json:"retention_windows"`
}

// Status returns the current counters.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Processor) statusLocked() Status {
	return Status{
		FramesReceived:              p.counts.received,
		FramesAdmitted:              p.counts.admitted,
		FramesAnalyzed:              p.counts.analyzed,
		FramesSkipped:               p.counts.skipped,
		FramesErrored:               p.counts.errored,
		FramesDroppedByTimestamp:    p.counts.droppedTimestamp,
		FramesDroppedByBackpressure: p.buf.Dropped(),
		FramesDroppedByFinalization: p.counts.droppedFinalizing,
		BufferDepth:                 p.buf.Len(),
		Mode:                        p.mode.mode.String(),
		Running:                     p.running && !p.loopExited(),
		Finalized:                   p.finalized,
		Stopped:                     p.stopped,
	}
}

// ExtendedStatus returns the counters plus backpressure, latency and
// retention diagnostics.
func (p *Processor) ExtendedStatus() ExtendedStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	mean, p95 := p.latency.stats()
	return ExtendedStatus{
		Status:             p.statusLocked(),
		BufferCapacity:     p.buf.Cap(),
		BackpressureRatio:  p.backpressureRatioLocked(),
		ModeTransitions:    p.modeTransitions,
		LatencyMeanMs:      float64(mean.Microseconds()) / 1000,
		LatencyP95Ms:       float64(p95.Microseconds()) / 1000,
		ResolutionChanges:  len(p.resolutionChanges),
		CameraDropDetected: p.cameraDrop,
		LastTimestamp:      p.lastTs,
		RetentionWindows:   p.retention.snapshot(),
	}
}

func (p *Processor) loopExited() bool {
	select {
	case <-p.runDone:
		return true
	default:
		return false
	}
}
