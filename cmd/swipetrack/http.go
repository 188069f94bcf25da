package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ============================================================================
// HTTP API
// ============================================================================
// The HTTP API mirrors the IPC surface for hosts that cannot reach the Unix
// socket, and serves the live state WebSocket:
//
//   GET  /health           liveness
//   GET  /session          current state snapshot (JSON)
//   GET  /session/csv      CSV of the last finished session
//   POST /session/start    begin a recording
//   POST /session/end      finish the recording
//   POST /session/samples  {"samples": [{"timestamp":..,"x":..,"y":..}, ...]}
//   GET  /ws               live state stream
//
// Handlers never touch DaemonState; everything goes through the events channel.
// ============================================================================

const (
	// httpEnqueueTimeout bounds how long a handler waits for room in the event queue.
	httpEnqueueTimeout = 500 * time.Millisecond

	// httpReplyTimeout bounds how long a handler waits for a daemon reply.
	httpReplyTimeout = time.Second

	// maxSamplesBodyBytes bounds POST /session/samples bodies.
	maxSamplesBodyBytes = 4 << 20
)

type apiServer struct {
	events chan<- Event
	export exporter
	logger *slog.Logger
}

// newRouter builds the HTTP router. ws may be nil (no /ws route).
func newRouter(events chan<- Event, ex exporter, ws *Server, logger *slog.Logger) *mux.Router {
	api := &apiServer{events: events, export: ex, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", api.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/session", api.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/session/csv", api.handleSessionCSV).Methods(http.MethodGet)
	r.HandleFunc("/session/start", api.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/session/end", api.handleEnd).Methods(http.MethodPost)
	r.HandleFunc("/session/samples", api.handleSamples).Methods(http.MethodPost)
	if ws != nil {
		ws.Register(r, "/ws")
	}
	return r
}

type apiStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// writeJSON encodes v before touching the response, so an encoding failure
// becomes a 500 instead of a truncated 2xx.
func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		body, _ = json.Marshal(apiStatus{Status: "error", Error: fmt.Sprintf("encode response: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiStatus{Status: "error", Error: msg})
}

var (
	errQueueFull         = errors.New("event queue full")
	errNoFinishedSession = errors.New("no finished session")
)

// enqueue hands ev to the daemon, waiting at most httpEnqueueTimeout.
func (a *apiServer) enqueue(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, httpEnqueueTimeout)
	defer cancel()

	select {
	case a.events <- ev:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errQueueFull
		}
		return ctx.Err()
	}
}

func (a *apiServer) submit(w http.ResponseWriter, r *http.Request, ev Event) {
	if err := a.enqueue(r.Context(), ev); err != nil {
		a.logger.Warn("http event rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, apiStatus{Status: "ok"})
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiStatus{Status: "ok"})
}

func (a *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	a.submit(w, r, SessionStart{})
}

func (a *apiServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	a.submit(w, r, SessionEnd{})
}

func (a *apiServer) handleSamples(w http.ResponseWriter, r *http.Request) {
	var batch TouchBatch
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSamplesBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode samples: %v", err))
		return
	}
	if len(batch.Samples) == 0 {
		writeJSON(w, http.StatusAccepted, apiStatus{Status: "ok"})
		return
	}
	a.submit(w, r, batch)
}

func (a *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	reply := make(chan StateSnapshot, 1)
	if err := a.enqueue(r.Context(), RequestStateSnapshot{Reply: reply}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), httpReplyTimeout)
	defer cancel()

	select {
	case snap := <-reply:
		writeJSON(w, http.StatusOK, snap)
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "state snapshot timed out")
	}
}

func (a *apiServer) handleSessionCSV(w http.ResponseWriter, r *http.Request) {
	reply := make(chan SessionCSVReply, 1)
	if err := a.enqueue(r.Context(), RequestSessionCSV{Reply: reply}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), httpReplyTimeout)
	defer cancel()

	select {
	case res := <-reply:
		if !res.Found {
			writeError(w, http.StatusNotFound, errNoFinishedSession.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.export.fileName(res.FinishedAt)))
		w.Header().Set("X-Session-Id", res.SessionID)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, res.CSV)
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "session CSV timed out")
	}
}

// runHTTPServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveHTTP(ctx, ln, handler, logger)
}

func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	logger.Info("HTTP listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
