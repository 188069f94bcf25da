package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"swipetrack/tracker"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "swipetrack",
		Short:         "Touch swipe velocity recorder",
		Long:          "Records single-contact touch swipes, estimates per-sample velocity and exports sessions as CSV.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (optional)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newSendCmd(&configPath))
	root.AddCommand(newReplayCmd())
	root.AddCommand(newWatchCmd(&configPath))
	return root
}

// loadConfig returns DefaultConfig, or the file at path layered on top of it.
func loadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfigFile(path)
}

// ============================================================================
// run
// ============================================================================

func newRunCmd(configPath *string) *cobra.Command {
	var (
		durationMS int
		devices    []string
		socketPath string
		listenAddr string
		exportDir  string
		exportAuto bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recorder daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			// Only flags the user actually set override the file.
			var o FlagOverrides
			flags := cmd.Flags()
			if flags.Changed("session-duration-ms") {
				o.SessionDurationMS = &durationMS
			}
			if flags.Changed("device") {
				o.InputDevices = &devices
			}
			if flags.Changed("ipc-socket") {
				o.IPCSocketPath = &socketPath
			}
			if flags.Changed("listen") {
				o.HTTPListenAddr = &listenAddr
			}
			if flags.Changed("export-dir") {
				o.ExportDir = &exportDir
			}
			if flags.Changed("export-auto") {
				o.ExportAuto = &exportAuto
			}
			if flags.Changed("log-level") {
				o.LogLevel = &logLevel
			}
			o.Apply(&cfg)

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runService(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.IntVar(&durationMS, "session-duration-ms", int(defaultSessionDuration.Milliseconds()), "Recording length in ms (0 = until explicit end)")
	f.StringSliceVar(&devices, "device", nil, "Touchscreen evdev node (repeatable), e.g. /dev/input/event2")
	f.StringVar(&socketPath, "ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC (empty disables)")
	f.StringVar(&listenAddr, "listen", defaultHTTPListenAddr, "HTTP/WebSocket listen address (empty disables)")
	f.StringVar(&exportDir, "export-dir", ".", "Directory for exported session CSV files")
	f.BoolVar(&exportAuto, "export-auto", false, "Write every finished session to export-dir")
	f.StringVar(&logLevel, "log-level", "info", "Log level: error, warn, info, debug")
	return cmd
}

// runService wires every component to one errgroup and blocks until ctx is
// canceled or a component fails.
func runService(ctx context.Context, cfg Config, logOut io.Writer) error {
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := setupLogger(logOut, level)

	logger.Info("starting swipetrack", "version", version)
	logger.Debug("configuration",
		"session_duration_ms", cfg.Session.DurationMS,
		"input_devices", cfg.Input.Devices,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_listen_addr", cfg.HTTP.ListenAddr,
		"export_dir", cfg.Export.Dir,
		"export_auto", cfg.Export.Auto,
		"export_file_prefix", cfg.Export.FilePrefix)

	events := make(chan Event, eventQueueSize)
	broadcasts := make(chan StateBroadcast, eventQueueSize)

	ex := exporter{Dir: cfg.Export.Dir, Prefix: cfg.Export.FilePrefix}
	rcfg := ReduceConfig{
		SessionDuration: cfg.SessionDuration(),
		AutoExport:      cfg.Export.Auto,
		NewSessionID:    uuid.NewString,
	}

	ws := NewServer(logger, events, ServerConfig{})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runDaemon(gctx, events, broadcasts, rcfg, ex, logger)
		return nil
	})
	g.Go(func() error {
		ws.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, ws.Hub(), broadcasts, logger)
		return nil
	})

	if cfg.IPC.SocketPath != "" {
		socketPath := ExpandPath(cfg.IPC.SocketPath)
		g.Go(func() error {
			return runIPCServer(gctx, socketPath, events, logger)
		})
	}
	if cfg.HTTP.ListenAddr != "" {
		router := newRouter(events, ex, ws, logger)
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.ListenAddr, router, logger)
		})
	}
	g.Go(func() error {
		return runTouchInput(gctx, cfg.Input.Devices, events, logger)
	})

	err = g.Wait()
	if err != nil {
		logger.Error("shutting down", "error", err)
		return err
	}
	logger.Info("shut down")
	return nil
}

// ============================================================================
// send
// ============================================================================

func newSendCmd(configPath *string) *cobra.Command {
	var socketPath string

	send := &cobra.Command{
		Use:   "send",
		Short: "Send an event to a running daemon over IPC",
	}
	send.PersistentFlags().StringVar(&socketPath, "ipc-socket", "", "Unix domain socket path (default from config)")

	resolveSocket := func() (string, error) {
		if socketPath != "" {
			return ExpandPath(socketPath), nil
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return "", err
		}
		if cfg.IPC.SocketPath == "" {
			return "", fmt.Errorf("ipc.socket_path is not configured")
		}
		return ExpandPath(cfg.IPC.SocketPath), nil
	}

	sendOne := func(cmd *cobra.Command, ev Event) error {
		path, err := resolveSocket()
		if err != nil {
			return err
		}
		if err := SendIPCEvent(path, ev); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}

	send.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start a recording session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendOne(cmd, SessionStart{})
		},
	})
	send.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "End the recording session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendOne(cmd, SessionEnd{})
		},
	})
	send.AddCommand(&cobra.Command{
		Use:   "sample <timestamp> <x> <y>",
		Short: "Send one raw touch sample",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseSampleArgs(args)
			if err != nil {
				return err
			}
			return sendOne(cmd, TouchSample{RawSample: raw})
		},
	})
	return send
}

func parseSampleArgs(args []string) (tracker.RawSample, error) {
	var vals [3]float64
	names := [3]string{"timestamp", "x", "y"}
	for i := range vals {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return tracker.RawSample{}, fmt.Errorf("parse %s %q: %w", names[i], args[i], err)
		}
		vals[i] = v
	}
	return tracker.RawSample{Timestamp: vals[0], X: vals[1], Y: vals[2]}, nil
}

// ============================================================================
// replay
// ============================================================================

func newReplayCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "replay <raw.csv>",
		Short: "Run a timestamp,x,y CSV through the recorder and print the export",
		Long: "Reads raw touch samples (header timestamp,x,y; '-' for stdin), records them as one\n" +
			"session and writes the velocity CSV to stdout or --out.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(ExpandPath(args[0]))
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			raws, err := tracker.ParseRawCSV(in)
			if err != nil {
				return err
			}
			sess := replaySession(uuid.NewString(), raws)

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(ExpandPath(outPath))
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := tracker.WriteCSV(out, sess); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d samples, average speed %.1f pt/s\n",
				sess.Len(), sess.AverageSpeed())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the CSV here instead of stdout")
	return cmd
}

// replaySession records raws as one complete session.
func replaySession(id string, raws []tracker.RawSample) tracker.Session {
	rec := tracker.NewRecorder(nil)
	rec.Start(id)
	for _, raw := range raws {
		rec.Submit(raw)
	}
	sess, _ := rec.End()
	return sess
}
