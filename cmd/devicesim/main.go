// Command devicesim plays the role of a voice device: it streams a raw
// PCM file to the websocket endpoint in paced frames, signals the end of
// the utterance and renders the events and audio coming back.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/Cirilla-zmh/asr-demo/core"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle      = lipgloss.NewStyle().Faint(true)
	transcriptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type eventMsg orchestration.Event

type audioMsg int

type streamFinishedMsg struct{}

type disconnectedMsg struct{ err error }

type frameTickMsg struct{}

type model struct {
	spinner spinner.Model

	sessionID  string
	transcript string
	intent     string
	reply      strings.Builder
	errText    string

	audioBytes int
	complete   bool
	done       bool

	frames    [][]byte
	nextFrame int

	conn          *websocket.Conn
	frameInterval time.Duration
	width         int
}

func newModel(conn *websocket.Conn, frames [][]byte, frameInterval time.Duration) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return model{
		spinner:       s,
		frames:        frames,
		conn:          conn,
		frameInterval: frameInterval,
		width:         80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.frameTick())
}

func (m model) frameTick() tea.Cmd {
	return tea.Tick(m.frameInterval, func(time.Time) tea.Msg {
		return frameTickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case frameTickMsg:
		if m.nextFrame >= len(m.frames) {
			if !m.done {
				m.done = true
				if err := m.conn.WriteMessage(websocket.TextMessage, []byte("END")); err != nil {
					m.errText = err.Error()
				}
			}
			return m, nil
		}

		if err := m.conn.WriteMessage(websocket.BinaryMessage, m.frames[m.nextFrame]); err != nil {
			m.errText = err.Error()
			return m, nil
		}
		m.nextFrame++
		return m, m.frameTick()

	case eventMsg:
		switch msg.Type {
		case orchestration.EventTypeConnected:
			m.sessionID = msg.SessionID
		case orchestration.EventTypeTranscript:
			m.transcript = msg.Text
		case orchestration.EventTypeIntent:
			m.intent = msg.Value
		case orchestration.EventTypeTextChunk:
			m.reply.WriteString(msg.Text)
		case orchestration.EventTypeComplete:
			m.complete = true
		case orchestration.EventTypeError:
			m.errText = msg.Message
		}
		return m, nil

	case audioMsg:
		m.audioBytes += int(msg)
		return m, nil

	case disconnectedMsg:
		if msg.err != nil && m.errText == "" {
			m.errText = msg.err.Error()
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("device simulator"))
	b.WriteString("\n\n")

	if m.sessionID == "" {
		b.WriteString(m.spinner.View() + " connecting...\n")
		return b.String()
	}
	b.WriteString(labelStyle.Render("session") + " " + m.sessionID + "\n")

	if m.nextFrame < len(m.frames) {
		b.WriteString(fmt.Sprintf("%s streaming audio (%d/%d frames)\n",
			m.spinner.View(), m.nextFrame, len(m.frames)))
	} else if !m.complete {
		b.WriteString(m.spinner.View() + " waiting for response\n")
	}

	if m.transcript != "" {
		b.WriteString("\n" + labelStyle.Render("transcript") + "\n")
		b.WriteString(transcriptStyle.Render(wordwrap.String(m.transcript, m.width-2)) + "\n")
	}
	if m.intent != "" {
		b.WriteString("\n" + labelStyle.Render("intent") + " " + m.intent + "\n")
	}
	if m.reply.Len() > 0 {
		b.WriteString("\n" + labelStyle.Render("reply") + "\n")
		b.WriteString(wordwrap.String(m.reply.String(), m.width-2) + "\n")
	}
	if m.audioBytes > 0 {
		b.WriteString("\n" + labelStyle.Render("audio") +
			fmt.Sprintf(" %d bytes received\n", m.audioBytes))
	}
	if m.errText != "" {
		b.WriteString("\n" + errorStyle.Render("error: "+m.errText) + "\n")
	}
	if m.complete {
		b.WriteString("\n" + faintStyle.Render("response complete, press q to quit") + "\n")
	}

	return b.String()
}

func readMessages(conn *websocket.Conn, program *tea.Program) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			program.Send(disconnectedMsg{err: err})
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			program.Send(audioMsg(len(msg)))
		case websocket.TextMessage:
			var event orchestration.Event
			if err := json.Unmarshal(msg, &event); err != nil {
				continue
			}
			program.Send(eventMsg(event))
		}
	}
}

func splitFrames(audio []byte, frameSize int) [][]byte {
	var frames [][]byte
	for offset := 0; offset < len(audio); offset += frameSize {
		end := offset + frameSize
		if end > len(audio) {
			end = len(audio)
		}
		frames = append(frames, audio[offset:end])
	}
	return frames
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws/asr", "websocket endpoint")
	audioPath := flag.String("audio", "", "raw PCM audio file to stream")
	frameSize := flag.Int("frame", 3200, "bytes per audio frame")
	frameInterval := flag.Duration("interval", 100*time.Millisecond, "delay between frames")
	flag.Parse()

	if *audioPath == "" {
		fmt.Fprintln(os.Stderr, "missing -audio: path to a raw PCM file")
		os.Exit(2)
	}

	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read audio file: %v\n", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close()

	program := tea.NewProgram(newModel(conn, splitFrames(audio, *frameSize), *frameInterval))
	go readMessages(conn, program)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run program: %v\n", err)
		os.Exit(1)
	}
}
