package main

import "time"

// Linux input event types and codes (from <linux/input.h> and
// <linux/input-event-codes.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03

	SYN_REPORT  = 0
	SYN_DROPPED = 3

	BTN_TOUCH = 0x14a

	ABS_X = 0x00
	ABS_Y = 0x01

	// Multi-touch protocol B. Only slot 0 is tracked (single contact).
	ABS_MT_SLOT        = 0x2f
	ABS_MT_POSITION_X  = 0x35
	ABS_MT_POSITION_Y  = 0x36
	ABS_MT_TRACKING_ID = 0x39
)

// Daemon defaults
const (
	defaultSessionDuration = 5 * time.Second
	defaultIPCSocketPath   = "/tmp/swipetrack.sock"
	defaultHTTPListenAddr  = "127.0.0.1:3002"
	defaultExportPrefix    = "swipe_data_"

	// exportTimeLayout renders the yyyyMMdd_HHmmss file stamp.
	exportTimeLayout = "20060102_150405"

	// countdownInterval is how often remaining whole seconds are broadcast.
	countdownInterval = time.Second

	// eventQueueSize bounds the central event channel.
	eventQueueSize = 256
)
