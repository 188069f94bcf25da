package main

import (
	"encoding/json"
	"fmt"
	"time"

	"swipetrack/tracker"
)

// ============================================================================
// Events - inputs to the daemon reducer
// ============================================================================
// Events come from the touchscreen reader, IPC clients, HTTP handlers and the
// daemon's own timers. Payload events (session_start, session_end,
// touch_sample, touch_batch) have a JSON form; the rest are internal.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent wraps a payload event with the time the daemon received it.
// Payload types stay clean; the daemon loop assigns arrival times.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// SessionStart begins a new recording, discarding any unfinished one.
type SessionStart struct{}

func (SessionStart) eventMarker() {}

// SessionEnd finishes the active recording. Ignored when idle.
type SessionEnd struct{}

func (SessionEnd) eventMarker() {}

// TouchSample is one raw touch-move observation.
type TouchSample struct {
	tracker.RawSample
}

func (TouchSample) eventMarker() {}

// TouchBatch carries several raw observations in arrival order.
type TouchBatch struct {
	Samples []tracker.RawSample `json:"samples"`
}

func (TouchBatch) eventMarker() {}

// sessionTimeout is emitted by the daemon's session timer. ID guards against
// a timer from an earlier (restarted) session ending the current one.
type sessionTimeout struct {
	ID string
}

func (sessionTimeout) eventMarker() {}

// countdownTick is emitted once per countdownInterval while recording.
type countdownTick struct {
	Now time.Time
}

func (countdownTick) eventMarker() {}

// RequestStateSnapshot asks the daemon for a coherent state snapshot.
// Reply must be buffered; the daemon never blocks on it.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// RequestSessionCSV asks for the CSV export of the last finished session.
type RequestSessionCSV struct {
	Reply chan SessionCSVReply
}

func (RequestSessionCSV) eventMarker() {}

// SessionCSVReply is the answer to RequestSessionCSV.
// Found is false when no session has finished yet.
type SessionCSVReply struct {
	SessionID  string
	FinishedAt time.Time
	CSV        string
	Found      bool
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps events for JSON serialization with a type discriminator.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "session_start":
		return SessionStart{}, nil

	case "session_end":
		return SessionEnd{}, nil

	case "touch_sample":
		var e TouchSample
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal TouchSample: %w", err)
		}
		return e, nil

	case "touch_batch":
		var e TouchBatch
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal TouchBatch: %w", err)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes a payload Event into a JSON envelope
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case SessionStart:
		env.Type = "session_start"

	case SessionEnd:
		env.Type = "session_end"

	case TouchSample:
		env.Type = "touch_sample"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal TouchSample: %w", err)
		}
		env.Data = data

	case TouchBatch:
		env.Type = "touch_batch"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal TouchBatch: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
