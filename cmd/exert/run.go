package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/exert/internal/config"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/plan"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/space"
)

type runOptions struct {
	sets       []string
	jsonOut    bool
	withWorker bool
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Exert a plan and print its resulting context",
		Long: `Build the named plan from pipelines_dir, exert it on this node and
print the pipeline context. Net steps are routed to this node's own
provider or to the configured transport endpoints.

Values given with --set override context paths before the plan runs:

  exert run scaled --set x=4 --set label=demo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, ro, args[0])
		},
	}
	cmd.Flags().StringArrayVar(&ro.sets, "set", nil, "Override a context value (path=value), repeatable")
	cmd.Flags().BoolVar(&ro.jsonOut, "json", false, "Print the context as JSON")
	cmd.Flags().BoolVar(&ro.withWorker, "worker", false, "Run an in-process space worker for PULL steps")
	return cmd
}

func runPlan(cmd *cobra.Command, opts *cliOptions, ro *runOptions, name string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger := log.WithComponent("run")

	set, err := loadPlans(cfg)
	if err != nil {
		return err
	}
	overrides, err := parseSets(ro.sets)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Dispatch.Timeout)
	defer cancel()

	n, err := openNode(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer n.Close()

	if ro.withWorker {
		w := space.NewWorker(n.space, n.dispatcher(log.WithComponent("space-worker"), false),
			cfg.Space.Worker, cfg.Space.TickInterval)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	p, err := set.Build(naming.NewSequence(), name)
	if err != nil {
		return err
	}
	p.Context().SetPersister(n.values)

	logger.Info("exerting plan", "plan", name, "fingerprint", set.Plans[name].Fingerprint)
	_, exertErr := n.dispatcher(logger, true).Exert(ctx, p, overrides...)

	if err := writeContext(cmd.OutOrStdout(), p, ro.jsonOut); err != nil {
		return err
	}
	if exertErr != nil {
		return fmt.Errorf("plan %s %s: %w", name, p.Status(), exertErr)
	}
	return nil
}

// loadPlans reads pipelines_dir and checks the plan files against their
// checksum manifest when one exists.
func loadPlans(cfg *config.Config) (*plan.Set, error) {
	set, err := plan.LoadDir(cfg.PipelinesDir)
	if err != nil {
		return nil, err
	}
	if err := config.VerifyHashes(set.Files); err != nil {
		return nil, err
	}
	return set, nil
}

// parseSets turns path=value flags into Set args. Values are decoded as
// YAML scalars so numbers and booleans keep their types.
func parseSets(sets []string) ([]routine.Arg, error) {
	args := make([]routine.Arg, 0, len(sets))
	for _, kv := range sets {
		path, raw, ok := strings.Cut(kv, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid --set %q: expected path=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", kv, err)
		}
		if i, ok := v.(int); ok {
			v = int64(i)
		}
		args = append(args, routine.Set(path, v))
	}
	return args, nil
}

func writeContext(w io.Writer, p *routine.Pipeline, jsonOut bool) error {
	if jsonOut {
		data, err := json.MarshalIndent(p.Context(), "", "  ")
		if err != nil {
			return fmt.Errorf("render context: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "routine: %s\n", p.Name())
	fmt.Fprintf(w, "status: %s\n", p.Status())
	snapshot := p.Context().Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, err := json.Marshal(snapshot[k])
		if err != nil {
			return fmt.Errorf("render %s: %w", k, err)
		}
		fmt.Fprintf(w, "%s: %s\n", k, data)
	}
	return nil
}
