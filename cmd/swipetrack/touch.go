package main

import "swipetrack/tracker"

// touchAssembler folds evdev events from one touchscreen into touch-move
// samples for a single contact.
//
// Both the legacy single-touch axes (ABS_X/ABS_Y) and multi-touch protocol B
// (ABS_MT_*, slot 0 only) are understood. A sample is produced on SYN_REPORT
// when the contact is down and its position changed in that frame. The frame
// that puts the finger down produces nothing: it is the touch-began frame, and
// only moves are samples.
type touchAssembler struct {
	x, y float64

	slot     int32
	touching bool

	// downPending is set by a touch-down and cleared by the next SYN_REPORT.
	downPending bool
	// moved is set when slot 0's position changed in the current frame.
	moved bool
	// dropping discards events until the next SYN_REPORT after SYN_DROPPED.
	dropping bool
}

// feed consumes one event. It returns a sample when ev completes a move frame.
func (a *touchAssembler) feed(ev inputEvent) (tracker.RawSample, bool) {
	if a.dropping {
		if ev.Type == EV_SYN && ev.Code == SYN_REPORT {
			a.dropping = false
			a.moved = false
		}
		return tracker.RawSample{}, false
	}

	switch ev.Type {
	case EV_KEY:
		if ev.Code == BTN_TOUCH {
			a.setContact(ev.Value != 0)
		}

	case EV_ABS:
		switch ev.Code {
		case ABS_MT_SLOT:
			a.slot = ev.Value
		case ABS_MT_TRACKING_ID:
			if a.slot == 0 {
				a.setContact(ev.Value >= 0)
			}
		case ABS_MT_POSITION_X:
			if a.slot == 0 {
				a.setX(ev.Value)
			}
		case ABS_MT_POSITION_Y:
			if a.slot == 0 {
				a.setY(ev.Value)
			}
		case ABS_X:
			a.setX(ev.Value)
		case ABS_Y:
			a.setY(ev.Value)
		}

	case EV_SYN:
		switch ev.Code {
		case SYN_DROPPED:
			a.dropping = true
			a.moved = false
		case SYN_REPORT:
			return a.report(ev)
		}
	}

	return tracker.RawSample{}, false
}

func (a *touchAssembler) setContact(down bool) {
	if down && !a.touching {
		a.downPending = true
	}
	a.touching = down
}

func (a *touchAssembler) setX(v int32) {
	if f := float64(v); f != a.x {
		a.x = f
		a.moved = true
	}
}

func (a *touchAssembler) setY(v int32) {
	if f := float64(v); f != a.y {
		a.y = f
		a.moved = true
	}
}

func (a *touchAssembler) report(ev inputEvent) (tracker.RawSample, bool) {
	moved := a.moved
	a.moved = false

	if !a.touching {
		a.downPending = false
		return tracker.RawSample{}, false
	}
	if a.downPending {
		a.downPending = false
		return tracker.RawSample{}, false
	}
	if !moved {
		return tracker.RawSample{}, false
	}
	return tracker.RawSample{Timestamp: ev.seconds(), X: a.x, Y: a.y}, true
}
