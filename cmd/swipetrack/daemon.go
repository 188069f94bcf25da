package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The daemon goroutine is the only owner of DaemonState and its recorder.
//     Every other goroutine talks to it through the events channel.
//   - The reducer performs no I/O; this loop executes the commands it returns.
//   - Session timers are owned here and fed back as events (sessionTimeout,
//     countdownTick) so the reducer stays clock-free.
//   - Broadcasts are forwarded without blocking; a stalled broadcaster drops
//     messages rather than stalling touch ingestion.
//
// ============================================================================

// runDaemon runs until ctx is canceled or events is closed.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	broadcasts chan<- StateBroadcast,
	cfg ReduceConfig,
	ex exporter,
	logger *slog.Logger,
) {
	state := NewDaemonState()

	var (
		sessionTimer *time.Timer
		timerC       <-chan time.Time
		timerID      string

		ticker *time.Ticker
		tickC  <-chan time.Time
	)

	stopTimers := func() {
		if sessionTimer != nil {
			sessionTimer.Stop()
			sessionTimer = nil
		}
		timerC = nil
		timerID = ""
		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
		tickC = nil
	}
	defer stopTimers()

	armTimers := func(c CmdArmSessionTimer) {
		stopTimers()
		sessionTimer = time.NewTimer(c.Duration)
		timerC = sessionTimer.C
		timerID = c.SessionID
		ticker = time.NewTicker(countdownInterval)
		tickC = ticker.C
	}

	publish := func(b StateBroadcast) {
		switch v := b.(type) {
		case BroadcastSessionStarted:
			logger.Info("session started", "session_id", v.SessionID, "duration_ms", v.DurationMS)
		case BroadcastSessionFinished:
			logger.Info("session finished",
				"session_id", v.SessionID,
				"samples", v.Samples,
				"average_speed", v.AverageSpeed,
				"duration_sec", v.DurationSec)
		}

		if broadcasts == nil {
			return
		}
		select {
		case broadcasts <- b:
		default:
			logger.Warn("broadcast queue full, dropping state broadcast")
		}
	}

	handle := func(ev Event) {
		wasRecording := state.Phase == PhaseRecording
		if te, ok := ev.(TimedEvent); ok {
			if _, restart := te.Event.(SessionStart); restart && wasRecording {
				logger.Warn("discarding unfinished session", "session_id", state.SessionID, "samples", state.Recorder.Len())
			}
		}

		rr := Reduce(state, ev, cfg)
		if rr.State != nil {
			state = rr.State
		}

		for _, b := range rr.Broadcasts {
			publish(b)
		}
		for _, cmd := range rr.Commands {
			switch c := cmd.(type) {
			case CmdArmSessionTimer:
				armTimers(c)
			case CmdStopSessionTimer:
				stopTimers()
			default:
				runEffect(cmd, ex, logger)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			handle(TimedEvent{Event: ev, At: time.Now()})

		case now := <-timerC:
			id := timerID
			// The timer fired; drop it before reducing so a stop is a no-op.
			sessionTimer = nil
			timerC = nil
			handle(TimedEvent{Event: sessionTimeout{ID: id}, At: now})

		case now := <-tickC:
			handle(countdownTick{Now: now})
		}
	}
}
