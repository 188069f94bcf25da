package tracker

// Buffer is the ordered, append-only sample store of one session.
// There is no capacity bound; session length and the host sampling rate
// keep it small in practice.
type Buffer struct {
	samples []Sample
}

// Append adds s at the end of the buffer.
func (b *Buffer) Append(s Sample) {
	b.samples = append(b.samples, s)
}

// Clear drops all samples. Snapshots taken earlier are unaffected.
func (b *Buffer) Clear() {
	b.samples = nil
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Last returns the most recently appended sample, if any.
func (b *Buffer) Last() (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Snapshot returns a copy of the buffered samples in insertion order.
// Later appends or clears never show through the returned slice.
func (b *Buffer) Snapshot() []Sample {
	if len(b.samples) == 0 {
		return nil
	}
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}
