package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC: Unix socket, one JSON event per line
// ============================================================================
// Host adapters (a touch-screen app shell, `swipetrack send`, replay scripts)
// feed session control and raw samples to the daemon here. Every non-blank
// line gets exactly one reply line:
//
//   -> {"type":"touch_sample","data":{"timestamp":0.016,"x":10,"y":4}}
//   <- {"status":"ok"}
//   <- {"status":"error","error":"event queue full"}
// ============================================================================

const (
	// maxIPCLineBytes bounds one JSON line; touch_batch lines can be large.
	maxIPCLineBytes = 1 << 20

	ipcSocketMode  = 0o660
	ipcDialTimeout = 2 * time.Second
)

// IPCResponse is the reply line for one request line.
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func ipcOK() IPCResponse { return IPCResponse{Status: "ok"} }

func ipcError(err error) IPCResponse { return IPCResponse{Status: "error", Error: err.Error()} }

// runIPCServer listens on socketPath until ctx is canceled. A stale socket
// file from an earlier run is replaced; the file is removed on return.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	// Touch input is as sensitive as keystrokes.
	if err := os.Chmod(socketPath, ipcSocketMode); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)
	return serveIPC(ctx, ln, events, logger)
}

func serveIPC(ctx context.Context, ln net.Listener, events chan<- Event, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			go handleIPCConnection(conn, events, logger)
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			logger.Debug("IPC listener closed")
			return nil
		default:
			logger.Error("IPC accept error", "error", err)
		}
	}
}

// queueEvent hands ev to the daemon without blocking the connection.
func queueEvent(events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	default:
		return errQueueFull
	}
}

func handleIPCConnection(conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()
	logger = logger.With("remote_addr", conn.RemoteAddr().String())
	logger.Debug("IPC connection opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64<<10), maxIPCLineBytes)
	replies := json.NewEncoder(conn)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		reply := ipcOK()
		if ev, err := UnmarshalEvent(line); err != nil {
			reply = ipcError(fmt.Errorf("parse event: %w", err))
		} else if err := queueEvent(events, ev); err != nil {
			reply = ipcError(err)
		}
		if reply.Status != "ok" {
			logger.Debug("IPC request rejected", "error", reply.Error)
		}

		if err := replies.Encode(reply); err != nil {
			logger.Warn("IPC reply failed", "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("IPC connection read error", "error", err)
	}
	logger.Debug("IPC connection closed")
}

// ============================================================================
// Client side (`swipetrack send`, tests)
// ============================================================================

// SendIPCEvents sends evs in order over one connection and stops at the
// first error reply.
func SendIPCEvents(socketPath string, evs ...Event) error {
	conn, err := net.DialTimeout("unix", socketPath, ipcDialTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	replies := json.NewDecoder(conn)
	for _, ev := range evs {
		if err := sendIPCEvent(conn, replies, ev); err != nil {
			return err
		}
	}
	return nil
}

// SendIPCEvent sends a single event.
func SendIPCEvent(socketPath string, ev Event) error {
	return SendIPCEvents(socketPath, ev)
}

func sendIPCEvent(conn net.Conn, replies *json.Decoder, ev Event) error {
	line, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := conn.Write(append(bytes.TrimSpace(line), '\n')); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var reply IPCResponse
	if err := replies.Decode(&reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if reply.Status != "ok" {
		return fmt.Errorf("daemon rejected %T: %s", ev, reply.Error)
	}
	return nil
}
