package main

import (
	"log/slog"
)

// runEffect executes a single reducer-emitted Command.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly.
// - Timer commands are handled by the daemon loop itself and never reach here.
// - Failures are logged; the recorder never sees storage errors.
func runEffect(cmd Command, ex exporter, logger *slog.Logger) {
	switch c := cmd.(type) {
	case CmdExportSession:
		path, err := ex.Write(c.Session, c.At)
		if err != nil {
			logger.Error("export failed", "session_id", c.Session.ID, "error", err)
			return
		}
		logger.Info("session exported", "session_id", c.Session.ID, "path", path, "samples", c.Session.Len())

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	case CmdPublishSessionCSV:
		if c.Reply == nil {
			logger.Warn("session CSV requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Result:
		default:
			logger.Warn("session CSV reply channel not ready; dropping reply")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}
