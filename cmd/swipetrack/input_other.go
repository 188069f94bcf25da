//go:build !linux

package main

import (
	"context"
	"os"
)

// readDevices starts one blocking reader per device.
func readDevices(ctx context.Context, files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(ctx, f, events, readErr)
	}
}
