// Package wire defines the JSON envelopes exchanged with providers and
// stored in the space: remote exertion requests and responses,
// provisioning requests, and whole routine trees.
package wire

import (
	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
)

// Version is the envelope protocol version.
const Version = 1

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is sent to a provider for one remote exertion.
type Request struct {
	Protocol  int                 `json:"protocol"`
	RoutineID string              `json:"routine_id"`
	Routine   string              `json:"routine"`
	Signature signature.Signature `json:"signature"`
	Context   *data.Context       `json:"context"`
	Txn       string              `json:"txn,omitempty"`
}

// Response is the provider's answer to a Request.
type Response struct {
	Status string `json:"status"` // ok | error
	Error  string `json:"error,omitempty"`
	// Recoverable marks a business fault raised by the operation, as
	// opposed to a provider-side infrastructure error.
	Recoverable bool          `json:"recoverable,omitempty"`
	Context     *data.Context `json:"context,omitempty"`
}

// ProvisionRequest asks a provider to prepare a deployment.
type ProvisionRequest struct {
	DeploymentID string                 `json:"deployment_id"`
	Deployments  []signature.Deployment `json:"deployments"`
}

// Variant is one named process signature of a routine.
type Variant struct {
	Name      string              `json:"name"`
	Signature signature.Signature `json:"signature"`
}

// Routine is a routine tree in wire form. Conditions travel as expression
// source, so only conditions built with routine.When can be encoded.
type Routine struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Kind       routine.Kind        `json:"kind"`
	Variants   []Variant           `json:"variants,omitempty"`
	Selected   string              `json:"selected,omitempty"`
	Executor   signature.Signature `json:"executor"`
	Strategy   *strategy.Strategy  `json:"strategy,omitempty"`
	Context    *data.Context       `json:"context"`
	Return     *data.RequestPath   `json:"return,omitempty"`
	Txn        string              `json:"txn,omitempty"`
	Provider   string              `json:"provider,omitempty"`
	Principal  []byte              `json:"principal,omitempty"`
	Status     routine.Status      `json:"status"`
	Condition  string              `json:"condition,omitempty"`
	Children   []Routine           `json:"children,omitempty"`
}
