package main

import (
	"encoding/json"
	"math"
	"time"

	"swipetrack/tracker"
)

// Phase mirrors the host UI's tracking state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhaseFinished  Phase = "finished"
)

// DaemonState is the daemon-owned state container.
//
// It is owned by the daemon goroutine, which is the single mutual-exclusion
// boundary around the recorder. Never hand *DaemonState to other goroutines;
// they get a StateSnapshot through RequestStateSnapshot instead.
type DaemonState struct {
	Recorder *tracker.Recorder

	Phase     Phase
	SessionID string
	StartedAt time.Time

	// Deadline is when the session timer ends the recording. Zero when the
	// session has no time limit.
	Deadline  time.Time
	Remaining int // whole seconds left, as last broadcast

	// Last is the most recently finished session, kept for export requests.
	Last       *tracker.Session
	FinishedAt time.Time

	// pendingSpeeds collects publisher notifications raised while reducing
	// one event; the reducer drains them into broadcasts.
	pendingSpeeds []float64
}

// NewDaemonState creates an idle state around a fresh recorder whose live
// speed publisher feeds the reducer.
func NewDaemonState() *DaemonState {
	s := &DaemonState{Phase: PhaseIdle}
	pub := &tracker.Publisher{}
	pub.Subscribe(func(speed float64) {
		s.pendingSpeeds = append(s.pendingSpeeds, speed)
	})
	s.Recorder = tracker.NewRecorder(pub)
	return s
}

// drainSpeeds returns and clears the pending live speed notifications.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) drainSpeeds() []float64 {
	out := s.pendingSpeeds
	s.pendingSpeeds = nil
	return out
}

// jsonFloat is a float64 that encodes NaN and ±Inf as null. NaN coordinates
// are accepted as-is and propagate into speeds, and encoding/json refuses
// non-finite numbers.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// StateSnapshot is an immutable view of DaemonState for other goroutines.
type StateSnapshot struct {
	Phase        Phase     `json:"phase"`
	SessionID    string    `json:"session_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	Samples      int       `json:"samples"`
	Speed        jsonFloat `json:"speed"`
	RemainingSec int       `json:"remaining_sec"`

	LastSessionID    string    `json:"last_session_id,omitempty"`
	LastSamples      int       `json:"last_samples"`
	LastAverageSpeed jsonFloat `json:"last_average_speed"`
}

// Snapshot builds a StateSnapshot.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Phase:        s.Phase,
		SessionID:    s.SessionID,
		StartedAt:    s.StartedAt,
		Speed:        jsonFloat(s.Recorder.LastSpeed()),
		RemainingSec: s.Remaining,
	}
	if s.Phase == PhaseRecording {
		snap.Samples = s.Recorder.Len()
	}
	if s.Last != nil {
		snap.LastSessionID = s.Last.ID
		snap.LastSamples = s.Last.Len()
		snap.LastAverageSpeed = jsonFloat(s.Last.AverageSpeed())
	}
	return snap
}
