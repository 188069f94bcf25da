package main

import (
	"context"
	"testing"
	"time"
)

// Hub tests use Clients with a nil websocket.Conn: fan-out and eviction never
// write to the connection, and Client.close skips a nil conn.

func runTestHub(t *testing.T, sendBuf int) (*Hub, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(discardLogger(), HubConfig{SendBuf: sendBuf, BroadcastBuf: 8})

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(cancel)
	return hub, cancel, done
}

// sendClosed reports whether c.send has been closed and drained.
func sendClosed(c *Client) bool {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func clientCount(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func TestHub_FanOutReachesEveryClient(t *testing.T) {
	hub, _, _ := runTestHub(t, 4)
	a := registerTestClient(t, hub, 4)
	b := registerTestClient(t, hub, 4)

	// Straight into the loop: BroadcastBytes may drop under scheduling noise.
	msg := []byte(`{"type":"speed_changed","data":{"speed":412.5}}`)
	hub.broadcast <- msg

	for name, c := range map[string]*Client{"a": a, "b": b} {
		if got := recvFrame(t, c, 500*time.Millisecond); string(got) != string(msg) {
			t.Fatalf("client %s got %q, want %q", name, got, msg)
		}
	}
}

func TestHub_EvictsClientWithFullQueue(t *testing.T) {
	hub, _, _ := runTestHub(t, 1)
	slow := registerTestClient(t, hub, 1)
	fast := registerTestClient(t, hub, 8)

	slow.send <- []byte(`"stuck"`)

	msg := []byte(`{"type":"countdown","data":{"session_id":"s1","remaining_sec":4}}`)
	hub.broadcast <- msg

	if got := recvFrame(t, fast, 500*time.Millisecond); string(got) != string(msg) {
		t.Fatalf("fast client got %q, want %q", got, msg)
	}
	waitUntil(t, 750*time.Millisecond, func() bool { return sendClosed(slow) }, "slow client queue not closed")
	if n := clientCount(hub); n != 1 {
		t.Fatalf("clients = %d, want 1 after eviction", n)
	}
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	hub, _, _ := runTestHub(t, 4)
	c := registerTestClient(t, hub, 4)

	hub.unregister <- c
	waitUntil(t, 500*time.Millisecond, func() bool { return clientCount(hub) == 0 }, "client not removed")

	if c.enqueue([]byte("late")) {
		t.Fatalf("enqueue succeeded on a removed client")
	}
	// Dropping again is harmless.
	hub.drop(c, "again")
	c.close()
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, cancel, done := runTestHub(t, 4)
	c := registerTestClient(t, hub, 4)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
	if !sendClosed(c) {
		t.Fatalf("client queue still open after shutdown")
	}
}

func TestHub_JoinAndLeaveAfterStop(t *testing.T) {
	hub, cancel, done := runTestHub(t, 4)
	cancel()
	<-done

	c := &Client{hub: hub, send: make(chan []byte, 1), remoteAddr: "late", logger: discardLogger()}
	if hub.join(c) {
		t.Fatalf("join succeeded on a stopped hub")
	}

	// Fill the queue so a plain send would block.
	for i := 0; i < cap(hub.unregister); i++ {
		hub.unregister <- c
	}
	left := make(chan struct{})
	go func() {
		defer close(left)
		hub.leave(c)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatalf("leave blocked on a stopped hub")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
