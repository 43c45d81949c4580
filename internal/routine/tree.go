package routine

import (
	"github.com/mattjoyce/exert/internal/signature"
)

// Children returns the direct children of r, or nil for leaf routines.
func Children(r Routine) []Routine {
	switch x := r.(type) {
	case Composite:
		return x.Children()
	case Conditional:
		return []Routine{x.Body()}
	}
	return nil
}

// Walk visits r and its descendants depth first, parents before children.
// Returning false from fn stops the walk.
func Walk(r Routine, fn func(Routine) bool) bool {
	if r == nil {
		return true
	}
	if !fn(r) {
		return false
	}
	for _, c := range Children(r) {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// Find returns the first routine named name in r's tree.
func Find(r Routine, name string) (Routine, bool) {
	var found Routine
	Walk(r, func(x Routine) bool {
		if x.Name() == name {
			found = x
			return false
		}
		return true
	})
	return found, found != nil
}

// AllSignatures returns every signature in r's tree in total order.
func AllSignatures(r Routine) []signature.Signature {
	var all []signature.Signature
	Walk(r, func(x Routine) bool {
		all = append(all, x.Signatures()...)
		return true
	})
	return signature.Sort(all)
}

// AllNetSignatures returns the networked signatures in r's tree, sorted by
// ordering key. Repeated calls on the same tree return the same order.
func AllNetSignatures(r Routine) []signature.Signature {
	return signature.NetSignatures(AllSignatures(r))
}

// AllDeployments returns the deployment descriptors of r's net signatures.
func AllDeployments(r Routine) []signature.Deployment {
	return signature.Deployments(AllSignatures(r))
}

// DeploymentID hashes the ordered net signatures of r's tree.
func DeploymentID(r Routine) (string, error) {
	return signature.DeploymentID(AllSignatures(r))
}

// IsComposite reports whether r orchestrates other routines rather than
// binding to an operation of its own.
func IsComposite(r Routine) bool {
	switch r.Kind() {
	case KindTask:
		return false
	default:
		return true
	}
}
