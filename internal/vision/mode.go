package vision

import "time"

// Mode is the adaptive sampling state of a [Processor].
type Mode int

const (
	// ModeNormal analyzes frames at the configured sample rate.
	ModeNormal Mode = iota

	// ModeDegraded analyzes frames at half the configured rate while the
	// buffer is overflowing.
	ModeDegraded
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// modeSwitch is the two-state hysteresis machine behind adaptive sampling.
// Entering degraded mode needs the backpressure ratio above overload; leaving
// it needs the ratio below recovery and the cooldown to have elapsed since
// entry.
type modeSwitch struct {
	overload float64
	recovery float64
	cooldown time.Duration

	mode      Mode
	enteredAt time.Time
}

func newModeSwitch(overload, recovery float64, cooldown time.Duration) modeSwitch {
	return modeSwitch{overload: overload, recovery: recovery, cooldown: cooldown}
}

// evaluate applies ratio at time now and reports whether the mode changed.
func (s *modeSwitch) evaluate(ratio float64, now time.Time) bool {
	switch s.mode {
	case ModeNormal:
		if ratio > s.overload {
			s.mode = ModeDegraded
			s.enteredAt = now
			return true
		}
	case ModeDegraded:
		if ratio < s.recovery && now.Sub(s.enteredAt) >= s.cooldown {
			s.mode = ModeNormal
			return true
		}
	}
	return false
}
