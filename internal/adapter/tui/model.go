package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"heartbridge/internal/domain"
)

const maxLogLines = 100

// Deps are the dashboard's read-only hooks into the running pipeline.
type Deps struct {
	Bus    domain.EventBus
	Latest func() *domain.NormalizedReading
	State  func() domain.SourceState
	Sinks  []string // sink names in delivery order
}

// Model is the root Bubble Tea model.
type Model struct {
	deps  Deps
	gauge progress.Model

	state       domain.SourceState
	reading     *domain.NormalizedReading
	sinkErrs    map[string]string // sink name -> last publish error
	lastAlert   string
	logLines    []string
	width       int
	height      int
	unsubscribe func()
}

var _ tea.Model = (*Model)(nil)

func NewModel(deps Deps) *Model {
	return &Model{
		deps:     deps,
		gauge:    progress.New(progress.WithDefaultGradient()),
		state:    domain.StateIdle,
		sinkErrs: make(map[string]string),
	}
}

// Subscribe wires the event bus into the running program. Call after
// tea.NewProgram so send can deliver messages.
func (m *Model) Subscribe(send func(tea.Msg)) {
	if m.deps.Bus == nil {
		return
	}
	m.unsubscribe = m.deps.Bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
		send(EventBusMsg{Event: event})
	})
}

func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.gauge.Width = msg.Width - 8
		if m.gauge.Width > 60 {
			m.gauge.Width = 60
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.unsubscribe != nil {
				m.unsubscribe()
			}
			return m, tea.Quit
		}

	case tickMsg:
		if m.deps.Latest != nil {
			m.reading = m.deps.Latest()
		}
		if m.deps.State != nil {
			m.state = m.deps.State()
		}
		return m, tickCmd()

	case EventBusMsg:
		m.handleEvent(msg.Event)
		return m, nil
	}
	return m, nil
}

func (m *Model) handleEvent(event domain.Event) {
	switch event.Type {
	case domain.EventSourceConnecting:
		m.appendLog(styleMuted.Render("connecting to " + event.Source + "..."))
	case domain.EventSourceConnected:
		m.sinkErrs = make(map[string]string)
		m.appendLog(styleGood.Render(event.Source + " connected"))
	case domain.EventSourceDisconnected:
		m.appendLog(styleBad.Render(event.Source + " disconnected"))
	case domain.EventSinkPublishFailed:
		var payload struct {
			Sink  string `json:"sink"`
			Error string `json:"error"`
		}
		if err := unmarshalPayload(event, &payload); err == nil {
			m.sinkErrs[payload.Sink] = payload.Error
			m.appendLog(styleWarn.Render(payload.Sink + " publish failed"))
		}
	case domain.EventAlertFired:
		var alert domain.Alert
		if err := unmarshalPayload(event, &alert); err == nil {
			m.lastAlert = fmt.Sprintf("%d BPM at %s", alert.BPM, alert.FiredAt)
			m.appendLog(styleBad.Render(fmt.Sprintf("alert fired: %d BPM", alert.BPM)))
		}
	case domain.EventReadingReceived:
		// The tick refreshes the reading; readings are too frequent to log.
	case domain.EventDispatcherStopped:
		m.appendLog(styleMuted.Render("dispatcher stopped"))
	}
}

func (m *Model) appendLog(line string) {
	stamp := time.Now().Format("15:04:05")
	m.logLines = append(m.logLines, styleMuted.Render(stamp)+" "+line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}

func (m *Model) View() string {
	if m.width == 0 {
		return "  Starting..."
	}

	header := styleTitle.Render("heartbridge") + "  " + m.stateView()

	var bpmLine, gaugeLine string
	if m.reading != nil && m.reading.Connected {
		bpmLine = styleBPM.Render(fmt.Sprintf("❤ %d BPM", m.reading.BPM))
		gaugeLine = m.gauge.ViewAs(m.reading.Percent)
	} else {
		bpmLine = styleMuted.Render("💔 no signal")
		gaugeLine = m.gauge.ViewAs(0)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		bpmLine,
		gaugeLine,
		"",
		m.sinksView(),
	)
	if m.lastAlert != "" {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "",
			styleBad.Render("last alert: ")+m.lastAlert)
	}

	log := m.logView()

	footer := styleMuted.Render("q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		stylePanel.Render(body),
		stylePanel.Render(log),
		footer,
	)
}

func (m *Model) stateView() string {
	switch m.state {
	case domain.StateStreaming:
		return styleGood.Render("● streaming")
	case domain.StateConnecting:
		return styleWarn.Render("● connecting")
	case domain.StateDisconnected:
		return styleBad.Render("● disconnected")
	case domain.StateStopped:
		return styleMuted.Render("● stopped")
	default:
		return styleMuted.Render("● idle")
	}
}

func (m *Model) sinksView() string {
	if len(m.deps.Sinks) == 0 {
		return styleMuted.Render("no sinks enabled")
	}
	parts := make([]string, 0, len(m.deps.Sinks))
	for _, name := range m.deps.Sinks {
		if _, bad := m.sinkErrs[name]; bad {
			parts = append(parts, styleBad.Render("✗ "+name))
		} else {
			parts = append(parts, styleGood.Render("✓ "+name))
		}
	}
	return strings.Join(parts, "  ")
}

func (m *Model) logView() string {
	visible := 8
	if m.height > 20 {
		visible = m.height - 14
	}
	lines := m.logLines
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	if len(lines) == 0 {
		return styleMuted.Render("no activity yet")
	}
	return strings.Join(lines, "\n")
}
