// Package signature describes which implementation a routine binds to and
// resolves that description into something executable.
//
// A Signature is an immutable value: the With* methods return modified
// copies. Its capability (local invoke, local evaluate, remote) is decided
// when the operation is registered or the signature is built, never by
// inspecting the target at dispatch time.
package signature

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/strategy"
)

const (
	// SpacerType is the pull-capable executor family.
	SpacerType = "Spacer"
	// JobberType is the push-capable executor family for composites.
	JobberType = "Jobber"
	// ExprType binds a signature to an expression held in its selector.
	ExprType = "Expr"

	ExertSelector = "exert"
	AnyProvider   = "*"
)

// Capability is the closed set of ways a resolved target executes.
type Capability int

const (
	CapUnset Capability = iota
	// Invoke mutates the routine Context in place.
	Invoke
	// Evaluate produces a value written at the return path.
	Evaluate
	// Remote is sent through the Transport.
	Remote
)

func (c Capability) String() string {
	switch c {
	case Invoke:
		return "invoke"
	case Evaluate:
		return "evaluate"
	case Remote:
		return "remote"
	default:
		return ""
	}
}

func (c Capability) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Capability) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "invoke":
		*c = Invoke
	case "evaluate":
		*c = Evaluate
	case "remote":
		*c = Remote
	case "":
		*c = CapUnset
	default:
		return fmt.Errorf("unknown capability %q", string(b))
	}
	return nil
}

// Locality says whether the target runs in-process or across the network.
type Locality int

const (
	Local Locality = iota
	Net
)

func (l Locality) String() string {
	if l == Net {
		return "net"
	}
	return "local"
}

func (l Locality) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Locality) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "net", "remote":
		*l = Net
	case "local", "":
		*l = Local
	default:
		return fmt.Errorf("unknown locality %q", string(b))
	}
	return nil
}

// Deployment describes what a provider needs to be provisioned. It is a
// routing hint; execution never reads it.
type Deployment struct {
	Name      string            `json:"name" yaml:"name"`
	Version   string            `json:"version,omitempty" yaml:"version,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Resources map[string]string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Signature binds a routine to an operation.
type Signature struct {
	Name       string            `json:"name,omitempty"`
	Type       string            `json:"type"`
	Selector   string            `json:"selector"`
	Provider   string            `json:"provider,omitempty"`
	Locality   Locality          `json:"locality"`
	Order      int               `json:"order,omitempty"`
	Capability Capability        `json:"capability,omitempty"`
	Deployment *Deployment       `json:"deployment,omitempty"`
	Return     *data.RequestPath `json:"return,omitempty"`
}

// New returns a local signature for typ.selector.
func New(typ, selector string) Signature {
	return Signature{Type: typ, Selector: selector}
}

// NewNet returns a networked signature; it always resolves to Remote.
func NewNet(typ, selector, provider string) Signature {
	return Signature{Type: typ, Selector: selector, Provider: provider, Locality: Net, Capability: Remote}
}

// Expr returns a signature evaluating src.
func Expr(src string) Signature {
	return Signature{Type: ExprType, Selector: src, Capability: Evaluate}
}

func (s Signature) WithName(name string) Signature         { s.Name = name; return s }
func (s Signature) WithSelector(sel string) Signature      { s.Selector = sel; return s }
func (s Signature) WithProvider(p string) Signature        { s.Provider = p; return s }
func (s Signature) WithOrder(n int) Signature              { s.Order = n; return s }
func (s Signature) WithCapability(c Capability) Signature  { s.Capability = c; return s }
func (s Signature) WithDeployment(d *Deployment) Signature { s.Deployment = d; return s }

// WithReturn sets the request path written by an Evaluate target.
func (s Signature) WithReturn(rp *data.RequestPath) Signature {
	s.Return = rp.Clone()
	return s
}

// Key names the fidelity variant this signature is registered under.
func (s Signature) Key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Selector
}

// Identity is type#selector@provider, unique per operation binding.
func (s Signature) Identity() string {
	return s.Type + "#" + s.Selector + "@" + s.Provider
}

func (s Signature) IsNet() bool { return s.Locality == Net }

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Type)
	b.WriteString("#")
	b.WriteString(s.Selector)
	if s.Provider != "" {
		b.WriteString("@")
		b.WriteString(s.Provider)
	}
	if s.IsNet() {
		b.WriteString(" (net)")
	}
	return b.String()
}

// Less is the total order of signatures on one routine: ordering key, then
// type, selector and provider.
func Less(a, b Signature) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.Selector != b.Selector {
		return a.Selector < b.Selector
	}
	return a.Provider < b.Provider
}

// Sort returns a sorted copy of sigs.
func Sort(sigs []Signature) []Signature {
	out := append([]Signature(nil), sigs...)
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// NetSignatures returns the networked signatures of sigs in sorted order.
func NetSignatures(sigs []Signature) []Signature {
	var out []Signature
	for _, s := range Sort(sigs) {
		if s.IsNet() {
			out = append(out, s)
		}
	}
	return out
}

// Deployments returns the deployment descriptors of the net signatures, in
// signature order.
func Deployments(sigs []Signature) []Deployment {
	var out []Deployment
	for _, s := range NetSignatures(sigs) {
		if s.Deployment != nil {
			out = append(out, *s.Deployment)
		}
	}
	return out
}

type deploymentShape struct {
	Type       string      `json:"type"`
	Selector   string      `json:"selector"`
	Provider   string      `json:"provider"`
	Order      int         `json:"order"`
	Deployment *Deployment `json:"deployment,omitempty"`
}

// DeploymentID hashes the ordered net signatures of sigs. The same list
// always yields the same id.
func DeploymentID(sigs []Signature) (string, error) {
	net := NetSignatures(sigs)
	shape := make([]deploymentShape, 0, len(net))
	for _, s := range net {
		shape = append(shape, deploymentShape{
			Type:       s.Type,
			Selector:   s.Selector,
			Provider:   s.Provider,
			Order:      s.Order,
			Deployment: s.Deployment,
		})
	}
	body, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("marshal deployment id input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

// CorrectAccess rebinds an executor signature to the family matching access:
// PULL goes through the Spacer, PUSH on a Spacer goes back to the Jobber.
// Applying it to its own output returns the same signature.
func CorrectAccess(sig Signature, access strategy.Access) Signature {
	switch {
	case access == strategy.Pull && sig.Type != SpacerType:
		sig.Type = SpacerType
		sig.Selector = ExertSelector
		sig.Provider = AnyProvider
	case access != strategy.Pull && sig.Type == SpacerType:
		sig.Type = JobberType
		sig.Selector = ExertSelector
		sig.Provider = AnyProvider
	}
	return sig
}
