// Package tracker turns a stream of single-contact touch samples into
// timestamped velocity samples, keeps them per recording session and
// serializes finished sessions to CSV.
//
// Nothing in this package performs I/O or spawns goroutines. The types are
// single-owner: a host that touches a Recorder from more than one goroutine
// must serialize those calls itself (swipetrack does so in its daemon loop).
package tracker

// RawSample is one touch-move observation reported by the host.
// Timestamp is in monotonic seconds; X and Y are in host points.
type RawSample struct {
	Timestamp float64 `json:"timestamp"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Sample is a RawSample with the velocity estimated against the previous
// accepted sample of the same session.
type Sample struct {
	Timestamp float64 `json:"timestamp"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	DX        float64 `json:"dx"` // units/s, signed
	DY        float64 `json:"dy"` // units/s, signed (y grows downwards on most screens)
	Speed     float64 `json:"speed"`
}

// newSample builds a Sample from a raw observation and its estimated velocity.
func newSample(raw RawSample, dx, dy, speed float64) Sample {
	return Sample{
		Timestamp: raw.Timestamp,
		X:         raw.X,
		Y:         raw.Y,
		DX:        dx,
		DY:        dy,
		Speed:     speed,
	}
}
