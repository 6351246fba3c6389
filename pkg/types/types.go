// Package types defines the shared types used across all poise packages.
//
// These types form the lingua franca between detector providers, the vision
// core, and the ingestion transport. They are intentionally minimal. Each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "math"

// Point is a 2D coordinate. Detector output is in pixel space; the vision core
// also uses Point for coordinates normalised to the unit square.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Mid returns the midpoint of p and q.
func (p Point) Mid(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Box is an axis-aligned bounding box in pixel space.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area, or 0 for degenerate boxes.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// FrameHeader describes one captured video frame. Timestamp is in seconds,
// monotonic and relative to the start of the recording. Seq is assigned by the
// producer and must increase with every frame.
//
// A header is immutable once admitted by the vision processor.
type FrameHeader struct {
	// Timestamp is the video-relative capture time in seconds.
	Timestamp float64 `json:"timestamp"`

	// Seq is the producer-assigned sequence number.
	Seq int64 `json:"seq"`

	// Width and Height are the frame dimensions in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TranscriptSegment is one final utterance from the speech transcriber that
// shares the recording session. The vision core only counts segments; it never
// inspects their text.
type TranscriptSegment struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Start and End are video-relative times in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
