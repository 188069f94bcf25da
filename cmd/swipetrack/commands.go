package main

import (
	"fmt"
	"time"

	"swipetrack/tracker"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents a side effect requested by the reducer and executed by
// the daemon loop (timers) or runEffect (everything else).
type Command interface {
	commandMarker()
	String() string
}

// CmdArmSessionTimer (re)arms the session timer and countdown ticker.
type CmdArmSessionTimer struct {
	SessionID string
	Duration  time.Duration
}

func (CmdArmSessionTimer) commandMarker() {}
func (c CmdArmSessionTimer) String() string {
	return fmt.Sprintf("CmdArmSessionTimer(id=%s, duration=%s)", c.SessionID, c.Duration)
}

// CmdStopSessionTimer stops the session timer and countdown ticker.
type CmdStopSessionTimer struct{}

func (CmdStopSessionTimer) commandMarker() {}
func (CmdStopSessionTimer) String() string { return "CmdStopSessionTimer()" }

// CmdExportSession writes a finished session to the export directory.
type CmdExportSession struct {
	Session tracker.Session
	At      time.Time
}

func (CmdExportSession) commandMarker() {}
func (c CmdExportSession) String() string {
	return fmt.Sprintf("CmdExportSession(id=%s, samples=%d)", c.Session.ID, c.Session.Len())
}

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// CmdPublishSessionCSV delivers an exported CSV to a requester.
type CmdPublishSessionCSV struct {
	Reply  chan SessionCSVReply
	Result SessionCSVReply
}

func (CmdPublishSessionCSV) commandMarker() {}
func (c CmdPublishSessionCSV) String() string {
	return fmt.Sprintf("CmdPublishSessionCSV(id=%s, found=%v)", c.Result.SessionID, c.Result.Found)
}

// ==============================
// Broadcasts (externally visible state changes)
// ==============================

// StateBroadcast is a state change the reducer wants pushed to live clients.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSpeedChanged carries the latest live speed.
type BroadcastSpeedChanged struct {
	Speed float64
	At    time.Time
}

func (BroadcastSpeedChanged) broadcastMarker() {}

// BroadcastSessionStarted announces a new recording.
type BroadcastSessionStarted struct {
	SessionID    string
	DurationMS   int64
	RemainingSec int
	At           time.Time
}

func (BroadcastSessionStarted) broadcastMarker() {}

// BroadcastCountdown carries the whole seconds left in the recording.
type BroadcastCountdown struct {
	SessionID    string
	RemainingSec int
	At           time.Time
}

func (BroadcastCountdown) broadcastMarker() {}

// BroadcastSessionFinished summarizes a finished recording.
type BroadcastSessionFinished struct {
	SessionID    string
	Samples      int
	AverageSpeed float64
	DurationSec  float64
	At           time.Time
}

func (BroadcastSessionFinished) broadcastMarker() {}
