package tui

import (
	"encoding/json"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"heartbridge/internal/domain"
)

// EventBusMsg wraps a domain.Event from the bus subscription.
type EventBusMsg struct {
	Event domain.Event
}

// tickMsg drives the periodic refresh of the latest-reading cell.
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func unmarshalPayload(event domain.Event, v any) error {
	if len(event.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(event.Payload, v)
}
