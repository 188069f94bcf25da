package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// seconds returns the kernel event time in seconds.
func (ev inputEvent) seconds() float64 {
	return float64(ev.Sec) + float64(ev.Usec)/1e6
}

// deviceEvent is an inputEvent tagged with the device it was read from, so
// each touchscreen gets its own assembler.
type deviceEvent struct {
	device string
	ev     inputEvent
}

// readInputEvents reads input events from one device and sends them to a channel.
// This runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(ctx context.Context, f *os.File, events chan<- deviceEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			select {
			case readErr <- fmt.Errorf("read from %s: %w", f.Name(), err):
			case <-ctx.Done():
			}
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		select {
		case events <- deviceEvent{device: f.Name(), ev: ev}:
		case <-ctx.Done():
			return
		}
	}
}

// runTouchInput reads the configured touchscreens and forwards touch-move
// samples to the daemon until ctx is canceled. With no devices it returns
// immediately; samples then arrive only over IPC or HTTP.
func runTouchInput(ctx context.Context, devices []string, out chan<- Event, logger *slog.Logger) error {
	if len(devices) == 0 {
		logger.Info("touch input disabled (no input.devices configured)")
		return nil
	}

	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(ExpandPath(dev))
		if err != nil {
			return fmt.Errorf("open input device %s: %w (run as root or add user to 'input' group)", dev, err)
		}
		files = append(files, f)
	}

	raw := make(chan deviceEvent, 64)
	readErr := make(chan error, 1)
	readDevices(ctx, files, raw, readErr)

	logger.Info("touch input listening", "devices", devices)

	assemblers := make(map[string]*touchAssembler, len(files))
	for _, f := range files {
		assemblers[f.Name()] = &touchAssembler{}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("touch input: %w", err)

		case de := <-raw:
			asm := assemblers[de.device]
			if asm == nil {
				continue
			}
			sample, ok := asm.feed(de.ev)
			if !ok {
				continue
			}
			logger.Debug("touch sample", "device", de.device, "t", sample.Timestamp, "x", sample.X, "y", sample.Y)

			select {
			case out <- TouchSample{RawSample: sample}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
