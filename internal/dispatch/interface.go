package dispatch

import (
	"context"
	"time"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/exert/internal/dispatch Transport,Provisioner,Spacer

// Request is one unit of remote work.
type Request struct {
	RoutineID string
	Routine   string
	Signature signature.Signature
	Context   *data.Context
	Txn       string
	Principal []byte
}

// Transport sends work to a remote provider and returns the resulting
// Context. Implementations must not retry: a call either reaches the
// provider at most once or fails visibly.
type Transport interface {
	Send(ctx context.Context, req *Request) (*data.Context, error)
}

// Provisioner prepares providers for a deployment before remote dispatch.
type Provisioner interface {
	Provision(ctx context.Context, deploymentID string, deployments []signature.Deployment) error
}

// SpaceOutcome is the result of a routine executed from the space.
type SpaceOutcome struct {
	Status  routine.Status
	Context *data.Context
	Faults  []string
}

// Spacer is a shared work space for PULL routines. Workers take entries,
// exert them and write the outcome back.
type Spacer interface {
	Write(ctx context.Context, r routine.Routine) (string, error)
	Await(ctx context.Context, entryID string) (*SpaceOutcome, error)
}

// Record describes one finished top-level exertion.
type Record struct {
	RoutineID string
	Routine   string
	Kind      routine.Kind
	Status    routine.Status
	Faults    []string
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder keeps a ledger of top-level exertions.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Publisher receives lifecycle events of monitorable routines.
type Publisher interface {
	Publish(eventType string, data any)
}
