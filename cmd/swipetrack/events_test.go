package main

import (
	"testing"

	"swipetrack/tracker"
)

func TestEventJSON_RoundTrip(t *testing.T) {
	cases := []Event{
		SessionStart{},
		SessionEnd{},
		TouchSample{RawSample: tracker.RawSample{Timestamp: 1.5, X: -2, Y: 3.25}},
		TouchBatch{Samples: []tracker.RawSample{{Timestamp: 0, X: 1, Y: 1}, {Timestamp: 0.1, X: 2, Y: 2}}},
	}

	for _, ev := range cases {
		b, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%T): %v", ev, err)
		}
		got, err := UnmarshalEvent(b)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", string(b), err)
		}

		switch want := ev.(type) {
		case TouchBatch:
			gb, ok := got.(TouchBatch)
			if !ok || len(gb.Samples) != len(want.Samples) {
				t.Fatalf("round trip %T = %#v", ev, got)
			}
			for i := range want.Samples {
				if gb.Samples[i] != want.Samples[i] {
					t.Fatalf("batch sample %d = %+v, want %+v", i, gb.Samples[i], want.Samples[i])
				}
			}
		default:
			if got != ev {
				t.Fatalf("round trip %T = %#v, want %#v", ev, got, ev)
			}
		}
	}
}

func TestUnmarshalEvent_TouchSampleWireFormat(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"touch_sample","data":{"timestamp":0.016,"x":10,"y":4}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	ts, ok := ev.(TouchSample)
	if !ok {
		t.Fatalf("got %T, want TouchSample", ev)
	}
	if ts.Timestamp != 0.016 || ts.X != 10 || ts.Y != 4 {
		t.Fatalf("sample = %+v", ts.RawSample)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"type":"volume_up"}`,
		`{"type":"touch_sample","data":{"x":"left"}}`,
	} {
		if _, err := UnmarshalEvent([]byte(in)); err == nil {
			t.Fatalf("UnmarshalEvent(%s): expected error", in)
		}
	}
}

func TestMarshalEvent_RejectsInternalEvents(t *testing.T) {
	if _, err := MarshalEvent(sessionTimeout{ID: "x"}); err == nil {
		t.Fatalf("expected error for internal event")
	}
}
