package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/exert/internal/events"
)

// EntryState tracks one space entry in the watch TUI.
type EntryState struct {
	ID       string
	Routine  string
	Worker   string
	Status   string
	Outcome  string
	LastSeen time.Time
}

func updateSpaceState(entries map[string]*EntryState, e events.Event) {
	var p struct {
		EntryID string `json:"entry_id"`
		Routine string `json:"routine"`
		Worker  string `json:"worker"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(e.Data, &p); err != nil || p.EntryID == "" {
		return
	}

	state, ok := entries[p.EntryID]
	if !ok {
		state = &EntryState{ID: p.EntryID}
		entries[p.EntryID] = state
	}
	if p.Routine != "" {
		state.Routine = p.Routine
	}
	state.LastSeen = e.At

	switch e.Type {
	case "space.written":
		state.Status = "written"
	case "space.taken":
		state.Status = "taken"
		state.Worker = p.Worker
	case "space.completed":
		state.Status = "completed"
		state.Outcome = p.Status
	}
}

func sortedEntries(entries map[string]*EntryState) []*EntryState {
	out := make([]*EntryState, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func renderSpace(entries map[string]*EntryState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(entries) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SPACE"),
			theme.Dim.Render("  No space entries observed yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range sortedEntries(entries) {
		if i >= 8 {
			break
		}
		lines = append(lines, renderEntryRow(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("SPACE")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderEntryRow(e *EntryState, theme Theme) string {
	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	status := theme.statusStyle(e.Status).Render(fmt.Sprintf("[%s]", e.Status))

	detail := ""
	switch {
	case e.Outcome != "":
		detail = theme.statusStyle(e.Outcome).Render(e.Outcome)
	case e.Worker != "":
		detail = theme.Dim.Render("worker=" + e.Worker)
	}
	return fmt.Sprintf(" %s %-24s %s %s", theme.Highlight.Render(id), e.Routine, status, detail)
}
