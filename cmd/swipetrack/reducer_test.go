package main

import (
	"fmt"
	"testing"
	"time"

	"swipetrack/tracker"
)

// seqIDs returns a NewSessionID func yielding s1, s2, ...
func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func testReduceConfig() ReduceConfig {
	return ReduceConfig{
		SessionDuration: 5 * time.Second,
		NewSessionID:    seqIDs(),
	}
}

func sample(ts, x, y float64) TouchSample {
	return TouchSample{RawSample: tracker.RawSample{Timestamp: ts, X: x, Y: y}}
}

func speedsOf(bs []StateBroadcast) []float64 {
	var out []float64
	for _, b := range bs {
		if sc, ok := b.(BroadcastSpeedChanged); ok {
			out = append(out, sc.Speed)
		}
	}
	return out
}

func TestReduce_StartArmsTimerAndBroadcasts(t *testing.T) {
	cfg := testReduceConfig()
	t0 := time.Unix(1000, 0).UTC()

	rr := Reduce(NewDaemonState(), TimedEvent{Event: SessionStart{}, At: t0}, cfg)

	if rr.State.Phase != PhaseRecording {
		t.Fatalf("phase = %q, want recording", rr.State.Phase)
	}
	if rr.State.SessionID != "s1" {
		t.Fatalf("session id = %q, want s1", rr.State.SessionID)
	}
	if !rr.State.Recorder.Recording() {
		t.Fatalf("expected recorder to be recording")
	}
	if rr.State.Remaining != 5 {
		t.Fatalf("remaining = %d, want 5", rr.State.Remaining)
	}

	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	arm, ok := rr.Commands[0].(CmdArmSessionTimer)
	if !ok {
		t.Fatalf("expected CmdArmSessionTimer, got %T", rr.Commands[0])
	}
	if arm.SessionID != "s1" || arm.Duration != 5*time.Second {
		t.Fatalf("unexpected arm command: %+v", arm)
	}

	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rr.Broadcasts))
	}
	started, ok := rr.Broadcasts[0].(BroadcastSessionStarted)
	if !ok {
		t.Fatalf("expected BroadcastSessionStarted, got %T", rr.Broadcasts[0])
	}
	if started.DurationMS != 5000 || started.RemainingSec != 5 || !started.At.Equal(t0) {
		t.Fatalf("unexpected started broadcast: %+v", started)
	}
}

func TestReduce_StartWithoutDurationStopsTimer(t *testing.T) {
	cfg := testReduceConfig()
	cfg.SessionDuration = 0

	rr := Reduce(NewDaemonState(), SessionStart{}, cfg)

	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	if _, ok := rr.Commands[0].(CmdStopSessionTimer); !ok {
		t.Fatalf("expected CmdStopSessionTimer, got %T", rr.Commands[0])
	}
	if !rr.State.Deadline.IsZero() {
		t.Fatalf("expected no deadline, got %v", rr.State.Deadline)
	}
}

func TestReduce_SamplesBroadcastSpeedsInOrder(t *testing.T) {
	cfg := testReduceConfig()
	s := Reduce(NewDaemonState(), SessionStart{}, cfg).State

	rr := Reduce(s, sample(0, 0, 0), cfg)
	if got := speedsOf(rr.Broadcasts); len(got) != 1 || got[0] != 0 {
		t.Fatalf("first sample speeds = %v, want [0]", got)
	}

	rr = Reduce(rr.State, TouchBatch{Samples: []tracker.RawSample{
		{Timestamp: 1, X: 3, Y: 4},
		{Timestamp: 2, X: 3, Y: 4},
	}}, cfg)
	got := speedsOf(rr.Broadcasts)
	want := []float64{5, 0}
	if len(got) != len(want) {
		t.Fatalf("batch speeds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch speeds = %v, want %v", got, want)
		}
	}
	if n := rr.State.Recorder.Len(); n != 3 {
		t.Fatalf("recorded %d samples, want 3", n)
	}
}

func TestReduce_SamplesWhileIdleAreIgnored(t *testing.T) {
	cfg := testReduceConfig()

	rr := Reduce(NewDaemonState(), sample(1, 2, 3), cfg)

	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no broadcasts while idle, got %d", len(rr.Broadcasts))
	}
	if rr.State.Recorder.Len() != 0 {
		t.Fatalf("expected no samples while idle")
	}
}

func TestReduce_EndFinishesSession(t *testing.T) {
	cfg := testReduceConfig()
	cfg.AutoExport = true
	t0 := time.Unix(2000, 0).UTC()

	s := Reduce(NewDaemonState(), SessionStart{}, cfg).State
	s = Reduce(s, sample(0, 0, 0), cfg).State
	s = Reduce(s, sample(0.5, 3, 4), cfg).State

	rr := Reduce(s, TimedEvent{Event: SessionEnd{}, At: t0}, cfg)

	if rr.State.Phase != PhaseFinished {
		t.Fatalf("phase = %q, want finished", rr.State.Phase)
	}
	if rr.State.Last == nil || rr.State.Last.Len() != 2 {
		t.Fatalf("expected last session with 2 samples, got %+v", rr.State.Last)
	}

	// End publishes speed 0 before the summary.
	if len(rr.Broadcasts) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(rr.Broadcasts))
	}
	if sc, ok := rr.Broadcasts[0].(BroadcastSpeedChanged); !ok || sc.Speed != 0 {
		t.Fatalf("expected speed 0 first, got %#v", rr.Broadcasts[0])
	}
	fin, ok := rr.Broadcasts[1].(BroadcastSessionFinished)
	if !ok {
		t.Fatalf("expected BroadcastSessionFinished, got %T", rr.Broadcasts[1])
	}
	if fin.SessionID != "s1" || fin.Samples != 2 || fin.AverageSpeed != 5 || fin.DurationSec != 0.5 {
		t.Fatalf("unexpected finished broadcast: %+v", fin)
	}

	var sawStop, sawExport bool
	for _, c := range rr.Commands {
		switch c := c.(type) {
		case CmdStopSessionTimer:
			sawStop = true
		case CmdExportSession:
			sawExport = true
			if c.Session.ID != "s1" || !c.At.Equal(t0) {
				t.Fatalf("unexpected export command: %s", c)
			}
		}
	}
	if !sawStop || !sawExport {
		t.Fatalf("expected stop and export commands, got %v", rr.Commands)
	}
}

func TestReduce_EndWithoutAutoExportSkipsExport(t *testing.T) {
	cfg := testReduceConfig()

	s := Reduce(NewDaemonState(), SessionStart{}, cfg).State
	rr := Reduce(s, SessionEnd{}, cfg)

	for _, c := range rr.Commands {
		if _, ok := c.(CmdExportSession); ok {
			t.Fatalf("unexpected export command with auto export disabled")
		}
	}
}

func TestReduce_EndWhenIdleIsNoop(t *testing.T) {
	cfg := testReduceConfig()

	rr := Reduce(NewDaemonState(), SessionEnd{}, cfg)

	if rr.State.Phase != PhaseIdle {
		t.Fatalf("phase = %q, want idle", rr.State.Phase)
	}
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no output, got %v / %v", rr.Commands, rr.Broadcasts)
	}
}

func TestReduce_StaleTimeoutIgnored(t *testing.T) {
	cfg := testReduceConfig()

	s := Reduce(NewDaemonState(), SessionStart{}, cfg).State // s1
	s = Reduce(s, SessionStart{}, cfg).State                 // s2 replaces s1

	rr := Reduce(s, sessionTimeout{ID: "s1"}, cfg)
	if rr.State.Phase != PhaseRecording || rr.State.SessionID != "s2" {
		t.Fatalf("stale timeout ended the session: phase=%q id=%q", rr.State.Phase, rr.State.SessionID)
	}

	rr = Reduce(rr.State, sessionTimeout{ID: "s2"}, cfg)
	if rr.State.Phase != PhaseFinished {
		t.Fatalf("phase = %q, want finished", rr.State.Phase)
	}
	if rr.State.Last == nil || rr.State.Last.ID != "s2" {
		t.Fatalf("expected s2 to be the last session, got %+v", rr.State.Last)
	}
}

func TestReduce_RestartDiscardsUnfinished(t *testing.T) {
	cfg := testReduceConfig()

	s := Reduce(NewDaemonState(), SessionStart{}, cfg).State
	s = Reduce(s, sample(0, 0, 0), cfg).State
	s = Reduce(s, sample(1, 1, 1), cfg).State

	rr := Reduce(s, SessionStart{}, cfg)

	if rr.State.Recorder.Len() != 0 {
		t.Fatalf("expected empty buffer after restart, got %d", rr.State.Recorder.Len())
	}
	if rr.State.Last != nil {
		t.Fatalf("restart must not produce a finished session")
	}
	for _, b := range rr.Broadcasts {
		if _, ok := b.(BroadcastSessionFinished); ok {
			t.Fatalf("restart must not broadcast session_finished")
		}
	}
}

func TestReduce_CountdownBroadcastsOnSecondChange(t *testing.T) {
	cfg := testReduceConfig()
	t0 := time.Unix(3000, 0).UTC()

	s := Reduce(NewDaemonState(), TimedEvent{Event: SessionStart{}, At: t0}, cfg).State

	// 0.5s in: still 5 whole seconds (rounded up) left -> no broadcast.
	rr := Reduce(s, countdownTick{Now: t0.Add(500 * time.Millisecond)}, cfg)
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no countdown broadcast, got %v", rr.Broadcasts)
	}

	rr = Reduce(rr.State, countdownTick{Now: t0.Add(1 * time.Second)}, cfg)
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected 1 countdown broadcast, got %d", len(rr.Broadcasts))
	}
	cd, ok := rr.Broadcasts[0].(BroadcastCountdown)
	if !ok {
		t.Fatalf("expected BroadcastCountdown, got %T", rr.Broadcasts[0])
	}
	if cd.RemainingSec != 4 || cd.SessionID != "s1" {
		t.Fatalf("unexpected countdown: %+v", cd)
	}
}

func TestReduce_CountdownIgnoredWhenIdle(t *testing.T) {
	cfg := testReduceConfig()

	rr := Reduce(NewDaemonState(), countdownTick{Now: time.Now()}, cfg)
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no broadcasts, got %v", rr.Broadcasts)
	}
}

func TestReduce_SnapshotRequest(t *testing.T) {
	cfg := testReduceConfig()

	s := Reduce(NewDaemonState(), SessionStart{}, cfg).State
	s = Reduce(s, sample(0, 0, 0), cfg).State
	s = Reduce(s, sample(1, 6, 8), cfg).State

	reply := make(chan StateSnapshot, 1)
	rr := Reduce(s, RequestStateSnapshot{Reply: reply}, cfg)

	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	cmd, ok := rr.Commands[0].(CmdPublishStateSnapshot)
	if !ok {
		t.Fatalf("expected CmdPublishStateSnapshot, got %T", rr.Commands[0])
	}
	snap := cmd.Snapshot
	if snap.Phase != PhaseRecording || snap.Samples != 2 || snap.Speed != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestReduce_SessionCSVRequest(t *testing.T) {
	cfg := testReduceConfig()
	reply := make(chan SessionCSVReply, 1)

	// Nothing finished yet.
	rr := Reduce(NewDaemonState(), RequestSessionCSV{Reply: reply}, cfg)
	res := rr.Commands[0].(CmdPublishSessionCSV).Result
	if res.Found {
		t.Fatalf("expected Found=false before any session finished")
	}

	t0 := time.Unix(4000, 0).UTC()
	s := Reduce(rr.State, SessionStart{}, cfg).State
	s = Reduce(s, sample(0, 0, 0), cfg).State
	s = Reduce(s, TimedEvent{Event: SessionEnd{}, At: t0}, cfg).State

	rr = Reduce(s, RequestSessionCSV{Reply: reply}, cfg)
	res = rr.Commands[0].(CmdPublishSessionCSV).Result
	if !res.Found || res.SessionID != "s1" || !res.FinishedAt.Equal(t0) {
		t.Fatalf("unexpected CSV reply: %+v", res)
	}
	want := "timestamp,x,y,dx,dy,speed\n0,0,0,0,0,0\n"
	if res.CSV != want {
		t.Fatalf("CSV = %q, want %q", res.CSV, want)
	}
}

func TestRemainingSeconds(t *testing.T) {
	t0 := time.Unix(0, 0)
	cases := []struct {
		left time.Duration
		want int
	}{
		{5 * time.Second, 5},
		{4500 * time.Millisecond, 5},
		{1 * time.Millisecond, 1},
		{0, 0},
		{-time.Second, 0},
	}
	for _, c := range cases {
		if got := remainingSeconds(t0.Add(c.left), t0); got != c.want {
			t.Errorf("remainingSeconds(%v) = %d, want %d", c.left, got, c.want)
		}
	}
}
