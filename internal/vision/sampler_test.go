package vision

import "testing"

func TestSampler_FirstFrameAlwaysAccepted(t *testing.T) {
	t.Parallel()
	s := NewSampler(5)
	if !s.ShouldSample(123.4) {
		t.Error("first ShouldSample = false, want true")
	}
}

func TestSampler_Interval(t *testing.T) {
	t.Parallel()
	s := NewSampler(5) // 0.2 s interval

	tests := []struct {
		ts   float64
		want bool
	}{
		{0.0, true},
		{0.1, false},
		{0.19, false},
		{0.2, true},
		{0.3, false},
		{0.45, true},
		{0.6, false},
		{0.65, true},
	}
	for _, tc := range tests {
		if got := s.ShouldSample(tc.ts); got != tc.want {
			t.Errorf("ShouldSample(%v) = %v, want %v", tc.ts, got, tc.want)
		}
	}
}

func TestSampler_Reset(t *testing.T) {
	t.Parallel()
	s := NewSampler(1)
	s.ShouldSample(10)
	if s.ShouldSample(10.5) {
		t.Fatal("ShouldSample(10.5) = true before reset, want false")
	}
	s.Reset()
	if !s.ShouldSample(10.5) {
		t.Error("ShouldSample(10.5) = false after reset, want true")
	}
}

func TestSampler_SetRateKeepsAnchor(t *testing.T) {
	t.Parallel()
	s := NewSampler(10)
	s.ShouldSample(1.0)
	s.SetRate(2) // 0.5 s interval
	if s.ShouldSample(1.3) {
		t.Error("ShouldSample(1.3) = true, want false after slowing down")
	}
	if !s.ShouldSample(1.5) {
		t.Error("ShouldSample(1.5) = false, want true")
	}
	if got := s.Rate(); got != 2 {
		t.Errorf("Rate() = %v, want 2", got)
	}
}

func TestSampler_NonPositiveRateAcceptsAll(t *testing.T) {
	t.Parallel()
	s := NewSampler(0)
	for _, ts := range []float64{1, 1, 1.0001} {
		if !s.ShouldSample(ts) {
			t.Errorf("ShouldSample(%v) = false, want true", ts)
		}
	}
	if got := s.Rate(); got != 0 {
		t.Errorf("Rate() = %v, want 0", got)
	}
}
