package main

import (
	"math"
	"time"

	"swipetrack/tracker"
)

// This file implements the reducer:
//
//   - Events: inputs (session start/end, touch samples, timer firings, snapshot requests)
//   - Commands: side effects the daemon loop executes (timers, export, replies)
//   - Broadcasts: state changes pushed to live clients
//
// Reduce performs no I/O and never blocks. It mutates only the DaemonState it
// is given (including the recorder the state owns) and returns it.

// ReduceConfig carries the knobs and collaborators the reducer needs.
type ReduceConfig struct {
	SessionDuration time.Duration
	AutoExport      bool

	// NewSessionID mints session identifiers. Required.
	NewSessionID func() string
}

// ReduceResult is the output of Reduce: next state plus commands and broadcasts.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce applies one event to the state.
func Reduce(s *DaemonState, e Event, cfg ReduceConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState()
	}

	at := time.Now()
	if te, ok := e.(TimedEvent); ok {
		e = te.Event
		if !te.At.IsZero() {
			at = te.At
		}
	}

	var rr ReduceResult

	switch ev := e.(type) {
	case SessionStart:
		id := cfg.NewSessionID()
		s.Recorder.Start(id)
		s.Phase = PhaseRecording
		s.SessionID = id
		s.StartedAt = at
		s.Deadline = time.Time{}
		s.Remaining = 0

		if cfg.SessionDuration > 0 {
			s.Deadline = at.Add(cfg.SessionDuration)
			s.Remaining = remainingSeconds(s.Deadline, at)
			rr.Commands = append(rr.Commands, CmdArmSessionTimer{SessionID: id, Duration: cfg.SessionDuration})
		} else {
			rr.Commands = append(rr.Commands, CmdStopSessionTimer{})
		}

		rr.Broadcasts = append(rr.Broadcasts, BroadcastSessionStarted{
			SessionID:    id,
			DurationMS:   cfg.SessionDuration.Milliseconds(),
			RemainingSec: s.Remaining,
			At:           at,
		})

	case SessionEnd:
		finishSession(s, at, cfg, &rr)

	case sessionTimeout:
		// A timer armed for an earlier session must not end a restarted one.
		if ev.ID == s.SessionID {
			finishSession(s, at, cfg, &rr)
		}

	case countdownTick:
		if s.Phase == PhaseRecording && !s.Deadline.IsZero() {
			rem := remainingSeconds(s.Deadline, ev.Now)
			if rem != s.Remaining {
				s.Remaining = rem
				rr.Broadcasts = append(rr.Broadcasts, BroadcastCountdown{
					SessionID:    s.SessionID,
					RemainingSec: rem,
					At:           ev.Now,
				})
			}
		}

	case TouchSample:
		s.Recorder.Submit(ev.RawSample)

	case TouchBatch:
		for _, raw := range ev.Samples {
			s.Recorder.Submit(raw)
		}

	case RequestStateSnapshot:
		rr.Commands = append(rr.Commands, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	case RequestSessionCSV:
		res := SessionCSVReply{}
		if s.Last != nil {
			res = SessionCSVReply{
				SessionID:  s.Last.ID,
				FinishedAt: s.FinishedAt,
				CSV:        tracker.ExportCSV(*s.Last),
				Found:      true,
			}
		}
		rr.Commands = append(rr.Commands, CmdPublishSessionCSV{Reply: ev.Reply, Result: res})

	default:
		// Unknown event type: no-op.
	}

	// Live speeds go out in the order the publisher raised them, ahead of
	// any session summary produced by the same event.
	var speeds []StateBroadcast
	for _, v := range s.drainSpeeds() {
		speeds = append(speeds, BroadcastSpeedChanged{Speed: v, At: at})
	}
	rr.Broadcasts = append(speeds, rr.Broadcasts...)

	rr.State = s
	return rr
}

// finishSession ends the active recording, if any.
func finishSession(s *DaemonState, at time.Time, cfg ReduceConfig, rr *ReduceResult) {
	sess, ok := s.Recorder.End()
	if !ok {
		return
	}

	s.Phase = PhaseFinished
	s.Last = &sess
	s.FinishedAt = at
	s.Deadline = time.Time{}
	s.Remaining = 0

	rr.Commands = append(rr.Commands, CmdStopSessionTimer{})
	if cfg.AutoExport {
		rr.Commands = append(rr.Commands, CmdExportSession{Session: sess, At: at})
	}
	rr.Broadcasts = append(rr.Broadcasts, BroadcastSessionFinished{
		SessionID:    sess.ID,
		Samples:      sess.Len(),
		AverageSpeed: sess.AverageSpeed(),
		DurationSec:  sess.Duration(),
		At:           at,
	})
}

// remainingSeconds rounds the time left until deadline up to whole seconds.
func remainingSeconds(deadline, now time.Time) int {
	left := deadline.Sub(now).Seconds()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left))
}
