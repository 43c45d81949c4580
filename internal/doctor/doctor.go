// Package doctor validates an exert node's configuration against the
// plans it will run and the operations it can serve.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/exert/internal/config"
	"github.com/mattjoyce/exert/internal/plan"
	"github.com/mattjoyce/exert/internal/signature"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks a config together with its plans and local operations.
type Doctor struct {
	cfg      *config.Config
	plans    *plan.Set
	registry *signature.Registry
}

// New creates a Doctor. plans and registry may be nil, which skips the
// checks that need them.
func New(cfg *config.Config, plans *plan.Set, registry *signature.Registry) *Doctor {
	return &Doctor{cfg: cfg, plans: plans, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateProviderConfig(r)
	d.validatePlanRefs(r)
	d.warnUnusedEndpoints(r)
	d.warnMissingEnvVars(r)
	d.warnSuspiciousIntervals(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.PipelinesDir == "" {
		d.addError(r, "service", "pipelines_dir", "pipelines_dir is required")
	} else if _, err := os.Stat(d.cfg.PipelinesDir); err != nil {
		d.addWarning(r, "service", "pipelines_dir",
			fmt.Sprintf("pipelines_dir %q is not readable: %v", d.cfg.PipelinesDir, err))
	}
}

func (d *Doctor) validateProviderConfig(r *Result) {
	if d.cfg.Provider.Listen == "" {
		d.addError(r, "provider", "provider.listen", "provider.listen is required")
	}
	if d.cfg.Provider.APIKey == "" && len(d.cfg.Provider.Tokens) == 0 {
		d.addWarning(r, "provider", "provider.api_key", "no api_key or tokens configured; protected routes are open")
	}
	if d.cfg.Provider.Name != "" && d.hasEndpoint(d.cfg.Provider.Name) {
		d.addWarning(r, "provider", "provider.name",
			fmt.Sprintf("provider %q is also a transport endpoint; local requests take precedence", d.cfg.Provider.Name))
	}
}

// validatePlanRefs checks every op step can be reached: local steps need a
// registered operation and net steps need a provider this node can route to.
func (d *Doctor) validatePlanRefs(r *Result) {
	if d.plans == nil {
		return
	}
	for _, name := range d.plans.Names() {
		p := d.plans.Plans[name]
		plan.WalkSteps(p.Spec.Steps, func(st plan.StepSpec) {
			if st.Op == "" {
				return
			}
			field := fmt.Sprintf("plans.%s.%s", name, st.ID)
			typ, sel, _ := strings.Cut(st.Op, ".")

			if st.Provider == "" {
				if d.registry == nil {
					return
				}
				if _, ok := d.registry.Lookup(typ, sel); !ok {
					d.addError(r, "plan_refs", field,
						fmt.Sprintf("operation %s is not registered on this node", st.Op))
				}
				return
			}
			if !d.routable(st.Provider) {
				d.addError(r, "plan_refs", field,
					fmt.Sprintf("provider %q is neither this node nor a transport endpoint", st.Provider))
			}
		})
	}
}

func (d *Doctor) routable(provider string) bool {
	if provider == signature.AnyProvider {
		return true
	}
	return provider == d.cfg.Provider.Name || d.hasEndpoint(provider)
}

func (d *Doctor) hasEndpoint(name string) bool {
	for _, ep := range d.cfg.Transport.Endpoints {
		if ep.Name == name {
			return true
		}
	}
	return false
}

// warnUnusedEndpoints warns about endpoints no plan step names.
func (d *Doctor) warnUnusedEndpoints(r *Result) {
	if d.plans == nil || len(d.cfg.Transport.Endpoints) == 0 {
		return
	}
	used := make(map[string]bool)
	anyUsed := false
	for _, p := range d.plans.Plans {
		plan.WalkSteps(p.Spec.Steps, func(st plan.StepSpec) {
			used[st.Provider] = true
			if st.Provider == signature.AnyProvider {
				anyUsed = true
			}
		})
	}
	for i, ep := range d.cfg.Transport.Endpoints {
		if used[ep.Name] || (anyUsed && ep.Name == d.fallback()) {
			continue
		}
		d.addWarning(r, "unused", fmt.Sprintf("transport.endpoints[%d]", i),
			fmt.Sprintf("endpoint %q is not referenced by any plan", ep.Name))
	}
}

func (d *Doctor) fallback() string {
	if d.cfg.Transport.Fallback != "" {
		return d.cfg.Transport.Fallback
	}
	if len(d.cfg.Transport.Endpoints) > 0 {
		return d.cfg.Transport.Endpoints[0].Name
	}
	return ""
}

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// warnMissingEnvVars warns about api keys that are empty or still hold a
// ${VAR} reference.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, ep := range d.cfg.Transport.Endpoints {
		field := fmt.Sprintf("transport.endpoints[%d].api_key", i)
		if ep.APIKey == "" {
			d.addWarning(r, "env_vars", field,
				fmt.Sprintf("endpoint %q has no api_key (possibly unresolved environment variable)", ep.Name))
			continue
		}
		for _, m := range envVarRe.FindAllStringSubmatch(ep.APIKey, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnSuspiciousIntervals warns about space intervals likely to be mistakes.
func (d *Doctor) warnSuspiciousIntervals(r *Result) {
	if iv := d.cfg.Space.PollInterval; iv > 0 && iv.Milliseconds() < 5 {
		d.addWarning(r, "space", "space.poll_interval",
			fmt.Sprintf("poll interval %s is very short (< 5ms)", iv))
	}
	if iv := d.cfg.Space.TickInterval; iv > 0 && iv.Minutes() > 1 {
		d.addWarning(r, "space", "space.tick_interval",
			fmt.Sprintf("tick interval %s delays PULL work by over a minute", iv))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	errs := append([]Issue(nil), r.Errors...)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Category < errs[j].Category })
	for _, e := range errs {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
