package tracker

// Session is a finished (frozen) recording: the samples accepted between a
// Start and the matching End, in arrival order.
//
// A Session owns a private copy of its samples. Samples returns another copy,
// so nothing a caller does can mutate a frozen session.
type Session struct {
	// ID is an opaque identifier assigned by the host when recording started.
	// Empty when the host does not track sessions by ID.
	ID string

	samples []Sample
}

// NewSession freezes samples into a Session. The slice is copied.
func NewSession(id string, samples []Sample) Session {
	var own []Sample
	if len(samples) > 0 {
		own = make([]Sample, len(samples))
		copy(own, samples)
	}
	return Session{ID: id, samples: own}
}

// Samples returns a copy of the session's samples.
func (s Session) Samples() []Sample {
	if len(s.samples) == 0 {
		return nil
	}
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Len returns the number of samples in the session.
func (s Session) Len() int {
	return len(s.samples)
}

// AverageSpeed is the arithmetic mean of the per-sample speeds.
// An empty session has an average speed of 0.
func (s Session) AverageSpeed() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, smp := range s.samples {
		sum += smp.Speed
	}
	return sum / float64(len(s.samples))
}

// Duration is the time spanned by the samples (last minus first timestamp),
// in seconds. Sessions with fewer than two samples span 0.
func (s Session) Duration() float64 {
	if len(s.samples) < 2 {
		return 0
	}
	return s.samples[len(s.samples)-1].Timestamp - s.samples[0].Timestamp
}
