package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// ============================================================================
// watch: terminal view of the live state stream
// ============================================================================

var (
	watchPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#45475a")).
			Padding(1, 2)

	watchTitle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#74c7ec")).Bold(true)
	watchSpeed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fab387")).Bold(true)
	watchActive = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")).Bold(true)
	watchMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8"))
	watchError  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
)

func newWatchCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show live swipe speed from a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				addr = cfg.HTTP.ListenAddr
			}
			if addr == "" {
				return errors.New("http.listen_addr is not configured")
			}

			wsURL := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
			d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
			conn, _, err := d.Dial(wsURL.String(), nil)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", wsURL.String(), err)
			}
			defer conn.Close()

			p := tea.NewProgram(newWatchModel("http://"+addr), tea.WithContext(cmd.Context()))
			go readWatchStream(conn, p.Send)

			_, err = p.Run()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon HTTP address host:port (default from config)")
	return cmd
}

// inboundEnvelope is the client-side view of the WS envelope.
type inboundEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type (
	stateInitMsg       wsStateInitData
	speedChangedMsg    wsSpeedChangedData
	sessionStartedMsg  wsSessionStartedData
	countdownMsg       wsCountdownData
	sessionFinishedMsg wsSessionFinishedData

	streamClosedMsg struct{ err error }
	requestDoneMsg  struct{ err error }
)

// decodeWatchMessage turns one WS text frame into a tea message. Unknown
// types decode to nil.
func decodeWatchMessage(b []byte) (tea.Msg, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		target any
		msg    func() tea.Msg
	)
	switch env.Type {
	case wsTypeStateInit:
		var v stateInitMsg
		target, msg = &v, func() tea.Msg { return v }
	case wsTypeSpeedChanged:
		var v speedChangedMsg
		target, msg = &v, func() tea.Msg { return v }
	case wsTypeSessionStarted:
		var v sessionStartedMsg
		target, msg = &v, func() tea.Msg { return v }
	case wsTypeCountdown:
		var v countdownMsg
		target, msg = &v, func() tea.Msg { return v }
	case wsTypeSessionFinished:
		var v sessionFinishedMsg
		target, msg = &v, func() tea.Msg { return v }
	default:
		return nil, nil
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return msg(), nil
}

func readWatchStream(conn *websocket.Conn, send func(tea.Msg)) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			send(streamClosedMsg{err: err})
			return
		}
		msg, err := decodeWatchMessage(b)
		if err != nil || msg == nil {
			continue
		}
		send(msg)
	}
}

type watchModel struct {
	baseURL string
	client  *http.Client

	phase     Phase
	sessionID string
	remaining int
	speed     float64

	lastSamples int
	lastAverage float64
	lastSeconds float64

	err    error
	closed bool
}

func newWatchModel(baseURL string) watchModel {
	return watchModel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		phase:   PhaseIdle,
	}
}

func (m watchModel) Init() tea.Cmd { return nil }

// post issues a session control request off the UI goroutine.
func (m watchModel) post(path string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Post(m.baseURL+path, "application/json", nil)
		if err != nil {
			return requestDoneMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return requestDoneMsg{err: fmt.Errorf("%s: %s", path, resp.Status)}
		}
		return requestDoneMsg{}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "s":
			return m, m.post("/session/start")
		case "e":
			return m, m.post("/session/end")
		}

	case stateInitMsg:
		m.phase = msg.Phase
		m.sessionID = msg.SessionID
		m.remaining = msg.RemainingSec
		m.speed = float64(msg.Speed)
		m.lastSamples = msg.LastSamples
		m.lastAverage = float64(msg.LastAverageSpeed)

	case speedChangedMsg:
		m.speed = float64(msg.Speed)

	case sessionStartedMsg:
		m.phase = PhaseRecording
		m.sessionID = msg.SessionID
		m.remaining = msg.RemainingSec
		m.speed = 0

	case countdownMsg:
		if msg.SessionID == m.sessionID {
			m.remaining = msg.RemainingSec
		}

	case sessionFinishedMsg:
		m.phase = PhaseFinished
		m.remaining = 0
		m.lastSamples = msg.Samples
		m.lastAverage = float64(msg.AverageSpeed)
		m.lastSeconds = float64(msg.DurationSec)

	case requestDoneMsg:
		m.err = msg.err

	case streamClosedMsg:
		m.closed = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(watchTitle.Render("swipetrack"))
	b.WriteString("\n\n")

	switch m.phase {
	case PhaseRecording:
		status := "recording"
		if m.remaining > 0 {
			status = fmt.Sprintf("recording, %ds left", m.remaining)
		}
		b.WriteString(watchActive.Render(status))
	case PhaseFinished:
		b.WriteString(fmt.Sprintf("finished: %d samples, average %d pt/s over %.1fs",
			m.lastSamples, int(m.lastAverage), m.lastSeconds))
	default:
		b.WriteString(watchMuted.Render("idle"))
	}
	b.WriteString("\n")

	b.WriteString("speed: ")
	b.WriteString(watchSpeed.Render(fmt.Sprintf("%d pt/s", int(m.speed))))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(watchError.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(watchMuted.Render("s start · e end · q quit"))

	return watchPane.Render(b.String()) + "\n"
}
