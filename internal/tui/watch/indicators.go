package watch

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/exert/internal/events"
)

// Ticker alternates frames on every clock tick. A frozen frame means the
// program stopped receiving ticks.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

const (
	activitySlots = 6
	activityTTL   = 15 * time.Second
)

type outcome int

const (
	outcomeOther outcome = iota
	outcomeDone
	outcomeFailed
)

type pulse struct {
	outcome outcome
	at      time.Time
}

// Activity is a strip of the most recent routine outcomes. Each slot
// shows one finished routine coloured by how it ended, and fades out after
// activityTTL.
type Activity struct {
	pulses    []pulse
	lastEvent time.Time
}

func NewActivity() Activity {
	return Activity{}
}

// Observe records e. Only terminal routine events take a slot.
func (a *Activity) Observe(e events.Event, now time.Time) {
	a.lastEvent = now
	var o outcome
	switch e.Type {
	case "routine.done":
		o = outcomeDone
	case "routine.failed":
		o = outcomeFailed
	case "routine.suspended":
		o = outcomeOther
	default:
		return
	}
	a.pulses = append([]pulse{{outcome: o, at: now}}, a.pulses...)
	if len(a.pulses) > activitySlots {
		a.pulses = a.pulses[:activitySlots]
	}
}

// Decay drops outcomes older than activityTTL.
func (a *Activity) Decay(now time.Time) {
	kept := a.pulses[:0]
	for _, p := range a.pulses {
		if now.Sub(p.at) <= activityTTL {
			kept = append(kept, p)
		}
	}
	a.pulses = kept
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activitySlots {
		if i >= len(a.pulses) {
			b.WriteString(theme.TickerInactive.Render("○"))
			continue
		}
		b.WriteString(a.pulses[i].style(theme).Render("●"))
	}
	return b.String()
}

func (p pulse) style(theme Theme) lipgloss.Style {
	switch p.outcome {
	case outcomeDone:
		return theme.StatusOK
	case outcomeFailed:
		return theme.StatusFailed
	default:
		return theme.TickerActive
	}
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
