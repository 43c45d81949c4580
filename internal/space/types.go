package space

import (
	"time"

	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/wire"
)

type Status string

const (
	StatusWritten   Status = "written"
	StatusTaken     Status = "taken"
	StatusCompleted Status = "completed"
)

// Entry is one routine held in the space.
type Entry struct {
	ID        string
	RoutineID string
	Routine   string
	Kind      routine.Kind
	Payload   wire.Routine
	Status    Status
	Worker    string
	CreatedAt time.Time
	TakenAt   *time.Time
}
