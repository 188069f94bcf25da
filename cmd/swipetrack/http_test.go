package main

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestAPI serves the HTTP API in front of a real daemon loop.
func newTestAPI(t *testing.T, cfg ReduceConfig) (*httptest.Server, <-chan StateBroadcast) {
	t.Helper()
	ex := exporter{Prefix: defaultExportPrefix}
	events, broadcasts := startTestDaemon(t, cfg, ex)
	ts := httptest.NewServer(newRouter(events, ex, nil, discardLogger()))
	t.Cleanup(ts.Close)
	return ts, broadcasts
}

func post(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTP_Health(t *testing.T) {
	ts, _ := newTestAPI(t, ReduceConfig{NewSessionID: seqIDs()})

	resp := get(t, ts, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var st apiStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "ok" {
		t.Fatalf("status field = %q, want ok", st.Status)
	}
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	ts, _ := newTestAPI(t, ReduceConfig{NewSessionID: seqIDs()})

	resp := get(t, ts, "/session/start")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHTTP_SessionCSVNotFoundBeforeFinish(t *testing.T) {
	ts, _ := newTestAPI(t, ReduceConfig{NewSessionID: seqIDs()})

	resp := get(t, ts, "/session/csv")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_RecordAndDownload(t *testing.T) {
	ts, broadcasts := newTestAPI(t, ReduceConfig{NewSessionID: seqIDs()})

	if resp := post(t, ts, "/session/start", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", resp.StatusCode)
	}
	body := `{"samples":[{"timestamp":0,"x":0,"y":0},{"timestamp":0.5,"x":3,"y":4}]}`
	if resp := post(t, ts, "/session/samples", body); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("samples status = %d, want 202", resp.StatusCode)
	}

	resp := get(t, ts, "/session")
	var snap StateSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Phase != PhaseRecording || snap.Samples != 2 || snap.Speed != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if resp := post(t, ts, "/session/end", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("end status = %d, want 202", resp.StatusCode)
	}
	nextBroadcast[BroadcastSessionFinished](t, broadcasts, time.Second)

	resp = get(t, ts, "/session/csv")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, defaultExportPrefix) {
		t.Fatalf("content disposition = %q, want file name with %q", cd, defaultExportPrefix)
	}
	b, _ := io.ReadAll(resp.Body)
	want := "timestamp,x,y,dx,dy,speed\n0,0,0,0,0,0\n0.5,3,4,6,8,10\n"
	if string(b) != want {
		t.Fatalf("csv = %q, want %q", string(b), want)
	}
}

func TestHTTP_SamplesRejectsBadBody(t *testing.T) {
	ts, _ := newTestAPI(t, ReduceConfig{NewSessionID: seqIDs()})

	for _, body := range []string{`not json`, `{"samples":[{"timestamp":"x"}]}`, `{"points":[]}`} {
		resp := post(t, ts, "/session/samples", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestHTTP_EnqueueTimesOutWhenQueueFull(t *testing.T) {
	// Unbuffered and never read: every enqueue must time out.
	events := make(chan Event)
	ts := httptest.NewServer(newRouter(events, exporter{}, nil, discardLogger()))
	defer ts.Close()

	resp := post(t, ts, "/session/start", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHTTP_SessionWithInfiniteSpeed(t *testing.T) {
	ts, broadcasts := newTestAPI(t, ReduceConfig{NewSessionID: seqIDs()})

	post(t, ts, "/session/start", "")
	body := `{"samples":[{"timestamp":0,"x":-1e308,"y":0},{"timestamp":1,"x":1e308,"y":0}]}`
	if resp := post(t, ts, "/session/samples", body); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("samples status = %d, want 202", resp.StatusCode)
	}

	resp := get(t, ts, "/session")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var snap map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if v, ok := snap["speed"]; !ok || v != nil {
		t.Fatalf("speed = %v (present %v), want null", v, ok)
	}

	post(t, ts, "/session/end", "")
	fin := nextBroadcast[BroadcastSessionFinished](t, broadcasts, time.Second)
	if !math.IsInf(fin.AverageSpeed, 1) {
		t.Fatalf("average speed = %v, want +Inf", fin.AverageSpeed)
	}
}

func TestWriteJSON_UnencodableValueIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, math.Inf(1))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var st apiStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if st.Status != "error" || !strings.Contains(st.Error, "encode response") {
		t.Fatalf("unexpected body: %+v", st)
	}
}
