package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Live session state for dashboards and `swipetrack watch`:
//   - Hub tracks connected clients; each has its own write pump.
//   - RunBroadcaster turns reducer broadcasts into JSON frames and fans out.
//   - The first frame on connect is "state_init", built from a snapshot the
//     daemon loop produces; handlers never see *DaemonState.
//   - A client whose send buffer fills is disconnected.
//
// Frames are JSON text messages: {type, ts, data}.
//
// ============================================================================

// wsStateInitData is the JSON `data` payload for the WS "state_init" event.
// Keep this decoupled from internal state.
type wsStateInitData struct {
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

func stateInitData(snap StateSnapshot) wsStateInitData {
	return wsStateInitData{
		Phase:            snap.Phase,
		SessionID:        snap.SessionID,
		StartedAt:        snap.StartedAt,
		Samples:          snap.Samples,
		Speed:            snap.Speed,
		RemainingSec:     snap.RemainingSec,
		LastSessionID:    snap.LastSessionID,
		LastSamples:      snap.LastSamples,
		LastAverageSpeed: snap.LastAverageSpeed,
	}
}

// wsSpeedChangedData is the JSON `data` payload for "speed_changed".
type wsSpeedChangedData struct {
	Speed jsonFloat `json:"speed"`
}

// wsSessionStartedData is the JSON `data` payload for "session_started".
type wsSessionStartedData struct {
	SessionID    string `json:"session_id"`
	DurationMS   int64  `json:"duration_ms"`
	RemainingSec int    `json:"remaining_sec"`
}

// wsCountdownData is the JSON `data` payload for "countdown".
type wsCountdownData struct {
	SessionID    string `json:"session_id"`
	RemainingSec int    `json:"remaining_sec"`
}

// wsSessionFinishedData is the JSON `data` payload for "session_finished".
type wsSessionFinishedData struct {
	SessionID    string    `json:"session_id"`
	Samples      int       `json:"samples"`
	AverageSpeed jsonFloat `json:"average_speed"`
	DurationSec  jsonFloat `json:"duration_sec"`
}

// WS message types.
const (
	wsTypeStateInit       = "state_init"
	wsTypeSpeedChanged    = "speed_changed"
	wsTypeSessionStarted  = "session_started"
	wsTypeCountdown       = "countdown"
	wsTypeSessionFinished = "session_finished"
)

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// encode renders ev as one wire frame, stamping it now when At is unset.
func (ev wsOutboundEvent) encode() ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

const (
	defaultClientSendBuf = 32
	defaultHubBcastBuf   = 128
)

// Hub fans serialized frames out to every registered client. Only Run
// mutates the client set; mu guards reads from other goroutines.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// done is closed once Run starts shutting down; join and leave select on it.
	done chan struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (0 = default).
	SendBuf int
	// BroadcastBuf is the hub inbound queue size (0 = default).
	BroadcastBuf int
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	h := &Hub{
		logger:     logger,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
		sendBuf:    cfg.SendBuf,
	}
	if h.sendBuf <= 0 {
		h.sendBuf = defaultClientSendBuf
	}
	bcast := cfg.BroadcastBuf
	if bcast <= 0 {
		bcast = defaultHubBcastBuf
	}
	h.broadcast = make(chan []byte, bcast)
	return h
}

// Run serves registrations and broadcasts until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")
	defer h.logger.Info("ws hub stopped")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, c := range h.snapshotClients() {
				h.drop(c, "shutdown")
			}
			// Clients queued for registration never made it into the set.
			for {
				select {
				case c := <-h.register:
					c.close()
				default:
					return
				}
			}
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", "remote_addr", c.remoteAddr, "clients", n)
		case c := <-h.unregister:
			h.drop(c, "unregister")
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// join hands c to Run. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave asks Run to drop c. After the hub has stopped it is a no-op: Run
// already closed every client on its way out.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) snapshotClients() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// fanOut queues msg on every client. A client with a full queue is too slow
// to keep up with live speed and is disconnected.
func (h *Hub) fanOut(msg []byte) {
	for _, c := range h.snapshotClients() {
		if !c.enqueue(msg) {
			h.drop(c, "slow_client")
		}
	}
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.close()
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes queues a serialized frame. It never blocks; a full hub queue
// drops the frame.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub queue full, dropping frame", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// mu orders enqueue against close so nothing sends on a closed channel.
	mu     sync.Mutex
	closed bool

	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	buf := defaultClientSendBuf
	if hub != nil {
		buf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, buf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// enqueue queues msg without blocking. It reports false when the queue is
// full or the client is already closed.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close tears down the connection and ends writePump. Safe to call twice.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.send)
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// logPumpExit records why a pump stopped. A close we initiated is not news.
func (c *Client) logPumpExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains send onto the socket and keeps the peer alive with pings.
func (c *Client) writePump(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(kind int, payload []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, payload)
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, msg)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.logPumpExit("writePump", err)
			return
		}
	}
}

// readPump discards inbound frames; its only jobs are pong handling and
// noticing the peer going away.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logPumpExit("readPump", err)
			break
		}
	}
	if c.hub != nil {
		c.hub.leave(c)
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// events carries the snapshot request that builds state_init.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer builds the WS endpoint. The caller runs Hub().Run and
// RunBroadcaster alongside it.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the WS endpoint on r at path.
func (s *Server) Register(r *mux.Router, path string) {
	if r == nil {
		return
	}
	r.HandleFunc(path, s.handleStateWS).Methods(http.MethodGet)
}

var upgrader = websocket.Upgrader{
	// The daemon listens on loopback by default; dashboards may be served from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsSnapshotTimeout = time.Second

func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)
	if !s.hub.join(client) {
		client.close()
		return
	}

	// The pumps outlive this handler: net/http cancels r.Context() on return.
	// Their lifetime is the hub's and the socket's.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}
	frame, err := s.stateInit(r.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws state_init failed", "remote_addr", client.remoteAddr, "error", err)
		}
		return
	}
	if !client.enqueue(frame) {
		s.hub.leave(client)
	}
}

// stateInit asks the daemon loop for a snapshot and renders it as the
// state_init frame.
func (s *Server) stateInit(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, wsSnapshotTimeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case s.events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case snap := <-reply:
		return wsOutboundEvent{Type: wsTypeStateInit, Data: stateInitData(snap)}.encode()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// wsSpeedCoalesceWindow bounds how long a speed update may wait before it is
// sent. A finger reports at 60-240 Hz; clients only need the latest value.
const wsSpeedCoalesceWindow = 50 * time.Millisecond

// speedCoalescer holds the latest unsent speed_changed frame. The window
// starts at the first pending update and is not extended by later ones.
type speedCoalescer struct {
	pending *wsOutboundEvent
	timer   *time.Timer
}

func (sc *speedCoalescer) offer(ev wsOutboundEvent) {
	sc.pending = &ev
	if sc.timer == nil {
		sc.timer = time.NewTimer(wsSpeedCoalesceWindow)
	}
}

// fired returns the window channel, nil when no window is open.
func (sc *speedCoalescer) fired() <-chan time.Time {
	if sc.timer == nil {
		return nil
	}
	return sc.timer.C
}

// take returns the pending frame, if any, and closes the window.
func (sc *speedCoalescer) take() (wsOutboundEvent, bool) {
	if sc.timer != nil {
		sc.timer.Stop()
		sc.timer = nil
	}
	if sc.pending == nil {
		return wsOutboundEvent{}, false
	}
	ev := *sc.pending
	sc.pending = nil
	return ev, true
}

// RunBroadcaster turns reducer broadcasts into frames for hub. speed_changed
// is coalesced; every other type flushes any pending speed first so clients
// see events in the order the daemon produced them.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	send := func(ev wsOutboundEvent) {
		msg, err := ev.encode()
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "type", ev.Type, "error", err)
			return
		}
		hub.BroadcastBytes(msg)
	}
	var speed speedCoalescer
	flush := func() {
		if ev, ok := speed.take(); ok {
			send(ev)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-speed.fired():
			// take() stops an already-fired timer; that is a no-op.
			flush()

		case b, ok := <-src:
			if !ok {
				flush()
				logger.Info("ws broadcaster stopping (source closed)")
				return
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			if ev.Type == wsTypeSpeedChanged {
				speed.offer(ev)
				continue
			}
			flush()
			send(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastSpeedChanged:
		return wsOutboundEvent{
			Type: wsTypeSpeedChanged,
			Data: wsSpeedChangedData{Speed: jsonFloat(ev.Speed)},
			At:   ev.At,
		}, true

	case BroadcastSessionStarted:
		return wsOutboundEvent{
			Type: wsTypeSessionStarted,
			Data: wsSessionStartedData{
				SessionID:    ev.SessionID,
				DurationMS:   ev.DurationMS,
				RemainingSec: ev.RemainingSec,
			},
			At: ev.At,
		}, true

	case BroadcastCountdown:
		return wsOutboundEvent{
			Type: wsTypeCountdown,
			Data: wsCountdownData{SessionID: ev.SessionID, RemainingSec: ev.RemainingSec},
			At:   ev.At,
		}, true

	case BroadcastSessionFinished:
		return wsOutboundEvent{
			Type: wsTypeSessionFinished,
			Data: wsSessionFinishedData{
				SessionID:    ev.SessionID,
				Samples:      ev.Samples,
				AverageSpeed: jsonFloat(ev.AverageSpeed),
				DurationSec:  jsonFloat(ev.DurationSec),
			},
			At: ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
