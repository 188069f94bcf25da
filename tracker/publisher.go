package tracker

// SpeedFunc receives the most recent live speed.
type SpeedFunc func(speed float64)

// Publisher is a single-slot live speed notifier.
//
// At most one observer is registered at a time; registering a new one
// replaces the previous. Notify calls the observer synchronously on the
// caller's goroutine. Nothing is queued or replayed: an observer registered
// late only sees values notified after it was registered.
type Publisher struct {
	observer SpeedFunc
}

// Subscribe registers fn as the observer, replacing any previous one.
// A nil fn unregisters.
func (p *Publisher) Subscribe(fn SpeedFunc) {
	p.observer = fn
}

// Notify delivers speed to the registered observer, if any.
func (p *Publisher) Notify(speed float64) {
	if p.observer == nil {
		return
	}
	p.observer(speed)
}
