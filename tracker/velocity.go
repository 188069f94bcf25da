package tracker

import "math"

// Estimate computes the velocity of cur relative to prev.
//
// Degenerate timing is not an error:
//   - prev == nil (first sample of a session) yields (0, 0, 0)
//   - a non-positive dt (duplicate or out-of-order timestamps) yields (0, 0, 0)
//     regardless of how far the contact moved
//
// Coordinates are not validated; NaN or Inf inputs propagate into the result.
func Estimate(prev *RawSample, cur RawSample) (dx, dy, speed float64) {
	if prev == nil {
		return 0, 0, 0
	}

	dt := cur.Timestamp - prev.Timestamp
	if dt <= 0 {
		return 0, 0, 0
	}

	dx = (cur.X - prev.X) / dt
	dy = (cur.Y - prev.Y) / dt
	return dx, dy, Speed(dx, dy)
}

// Speed is the magnitude of the velocity vector (dx, dy). It stays finite
// wherever the magnitude itself is representable.
func Speed(dx, dy float64) float64 {
	return math.Hypot(dx, dy)
}
