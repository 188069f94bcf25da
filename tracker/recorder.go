package tracker

// Recorder gates raw touch samples into a recording session.
//
// States are Idle -> Recording -> Idle. Start always begins a fresh session,
// discarding any unfinished one. Submit is ignored while Idle. End freezes the
// session and reports speed 0 to the publisher exactly once per session.
//
// Recorder is not safe for concurrent use.
type Recorder struct {
	buf       Buffer
	prev      *RawSample
	recording bool
	id        string

	pub *Publisher
}

// NewRecorder creates an idle recorder notifying pub. A nil pub disables
// live speed notifications.
func NewRecorder(pub *Publisher) *Recorder {
	if pub == nil {
		pub = &Publisher{}
	}
	return &Recorder{pub: pub}
}

// Publisher returns the live speed publisher the recorder notifies.
func (r *Recorder) Publisher() *Publisher {
	return r.pub
}

// Start begins a new session tagged with id.
// Calling Start while recording throws the current session away.
func (r *Recorder) Start(id string) {
	r.buf.Clear()
	r.prev = nil
	r.id = id
	r.recording = true
}

// Submit records raw if a session is active; otherwise it does nothing.
// It returns the stored sample and true when raw was accepted.
func (r *Recorder) Submit(raw RawSample) (Sample, bool) {
	if !r.recording {
		return Sample{}, false
	}

	dx, dy, speed := Estimate(r.prev, raw)
	s := newSample(raw, dx, dy, speed)
	r.buf.Append(s)

	prev := raw
	r.prev = &prev

	r.pub.Notify(speed)
	return s, true
}

// End stops the active session and returns it frozen.
// When no session is active it returns false and notifies nobody.
func (r *Recorder) End() (Session, bool) {
	if !r.recording {
		return Session{}, false
	}
	r.recording = false
	r.pub.Notify(0)
	return NewSession(r.id, r.buf.Snapshot()), true
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	return r.recording
}

// SessionID returns the ID passed to the latest Start.
func (r *Recorder) SessionID() string {
	return r.id
}

// Len returns the number of samples in the current (or last) session buffer.
func (r *Recorder) Len() int {
	return r.buf.Len()
}

// LastSpeed returns the speed of the most recent sample of the current
// session, or 0 when idle or nothing was recorded yet.
func (r *Recorder) LastSpeed() float64 {
	if !r.recording {
		return 0
	}
	s, ok := r.buf.Last()
	if !ok {
		return 0
	}
	return s.Speed
}
