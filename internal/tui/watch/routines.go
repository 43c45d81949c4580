package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/exert/internal/events"
)

// maxRoutines bounds how many routines the table keeps.
const maxRoutines = 200

// RoutineState tracks one routine discovered from lifecycle events.
type RoutineState struct {
	ID        string
	Name      string
	Kind      string
	Status    string
	Faults    []string
	StartTime time.Time
	EndTime   time.Time
}

type lifecyclePayload struct {
	RoutineID string   `json:"routine_id"`
	Routine   string   `json:"routine"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Faults    []string `json:"faults"`
}

// updateRoutineState folds a routine.* event into routines.
func updateRoutineState(routines map[string]*RoutineState, e events.Event) {
	var p lifecyclePayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.RoutineID == "" {
		return
	}

	r, ok := routines[p.RoutineID]
	if !ok {
		r = &RoutineState{ID: p.RoutineID}
		routines[p.RoutineID] = r
	}
	r.Name = p.Routine
	r.Kind = p.Kind

	switch e.Type {
	case "routine.started":
		r.Status = "RUNNING"
		r.StartTime = e.At
	case "routine.done", "routine.failed", "routine.suspended":
		r.Status = p.Status
		r.Faults = p.Faults
		r.EndTime = e.At
	default:
		return
	}
	pruneRoutines(routines)
}

// pruneRoutines drops the oldest finished routines beyond maxRoutines.
func pruneRoutines(routines map[string]*RoutineState) {
	if len(routines) <= maxRoutines {
		return
	}
	var finished []*RoutineState
	for _, r := range routines {
		if !r.EndTime.IsZero() {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].EndTime.Before(finished[j].EndTime) })
	for _, r := range finished {
		if len(routines) <= maxRoutines {
			return
		}
		delete(routines, r.ID)
	}
}

// sortedRoutines orders running routines first, then newest first.
func sortedRoutines(routines map[string]*RoutineState) []*RoutineState {
	out := make([]*RoutineState, 0, len(routines))
	for _, r := range routines {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Status == "RUNNING", out[j].Status == "RUNNING"
		if ri != rj {
			return ri
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func newRoutineTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Status", Width: 10},
			{Title: "Routine", Width: 24},
			{Title: "Kind", Width: 9},
			{Title: "ID", Width: 10},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// routineRows renders routines as table rows.
func routineRows(routines []*RoutineState, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(routines))
	for _, r := range routines {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{r.Status, r.Name, r.Kind, id, routineDuration(r, now)})
	}
	return rows
}

func routineDuration(r *RoutineState, now time.Time) string {
	if r.StartTime.IsZero() {
		return "-"
	}
	end := r.EndTime
	if end.IsZero() {
		end = now
	}
	return end.Sub(r.StartTime).Round(time.Millisecond).String()
}

func renderRoutines(t table.Model, routines []*RoutineState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(routines) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("ROUTINES"),
			theme.Dim.Render("  No routine activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	parts := []string{theme.Title.Render("ROUTINES"), t.View()}
	if sel := t.Cursor(); sel >= 0 && sel < len(routines) && len(routines[sel].Faults) > 0 {
		parts = append(parts, theme.StatusFailed.Render(fmt.Sprintf("  fault: %s", routines[sel].Faults[0])))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
