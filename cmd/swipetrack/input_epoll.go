//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// epollWaitMS bounds each epoll_wait so the reader notices cancellation.
const epollWaitMS = 250

// readDevices starts a single epoll reader for all devices.
func readDevices(ctx context.Context, files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	go readInputEventsEpoll(ctx, files, events, readErr)
}

// readInputEventsEpoll reads from multiple input devices using epoll:
// one goroutine, woken by the kernel only when a device has data.
func readInputEventsEpoll(ctx context.Context, files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	fail := func(err error) {
		select {
		case readErr <- err:
		case <-ctx.Done():
		}
	}

	if len(files) == 0 {
		fail(errors.New("no input devices provided"))
		return
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		fail(fmt.Errorf("epoll_create1: %w", err))
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			fail(fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err))
			return
		}
	}

	// A touchscreen frame is several events; read up to a batch per wakeup.
	const (
		maxEpollEvents = 16
		maxReadEvents  = 64
	)
	epollEvents := make([]unix.EpollEvent, maxEpollEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize*maxReadEvents)
	reader := bytes.NewReader(nil)

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			fail(fmt.Errorf("epoll_wait: %w", err))
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			// Any device error is fatal; a touchscreen that vanished is not
			// worth limping along without.
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				fail(fmt.Errorf("device error/hangup: %s", f.Name()))
				return
			}

			nr, err := f.Read(buf)
			if err != nil {
				fail(fmt.Errorf("read from %s: %w", f.Name(), err))
				return
			}

			reader.Reset(buf[:nr-nr%evSize])
			for reader.Len() > 0 {
				var ev inputEvent
				if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
					break
				}
				select {
				case events <- deviceEvent{device: f.Name(), ev: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
