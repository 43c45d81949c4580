package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/exert/internal/config"
	"github.com/mattjoyce/exert/internal/doctor"
	"github.com/mattjoyce/exert/internal/plan"
)

func newConfigCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, edit, lock and check configuration",
		Long: `Configuration management.

Subcommands:
  show   - Print the resolved configuration or one node of it
  get    - Read a single value by dot path
  set    - Write a value into the root config file
  lock   - Record BLAKE3 checksums of config and plan files
  check  - Validate configuration against plans and local operations`,
	}
	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigGetCmd(opts),
		newConfigSetCmd(opts),
		newConfigLockCmd(opts),
		newConfigCheckCmd(opts),
	)
	return cmd
}

func newConfigShowCmd(opts *cliOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the resolved configuration or one node of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			var result any = cfg
			if len(args) == 1 {
				if result, err = cfg.GetPath(args[0]); err != nil {
					return err
				}
			}
			return printValue(cmd, result, jsonOut, true)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in structured JSON format")
	return cmd
}

func newConfigGetCmd(opts *cliOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read a single value by dot path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			val, err := cfg.GetPath(args[0])
			if err != nil {
				return err
			}
			return printValue(cmd, val, jsonOut, false)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in structured JSON format")
	return cmd
}

func printValue(cmd *cobra.Command, v any, jsonOut, asYAML bool) error {
	out := cmd.OutOrStdout()
	switch {
	case jsonOut:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case asYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(data))
	default:
		fmt.Fprintf(out, "%v\n", v)
	}
	return nil
}

func newConfigSetCmd(opts *cliOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "set <path>=<value>",
		Short: "Write a value into the root config file",
		Long: `Set a value at a dot path of the root config file. The file is
restored if the result no longer loads. Use --dry-run to only check the
path resolves.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, value, ok := strings.Cut(args[0], "=")
			if !ok || path == "" {
				return fmt.Errorf("expected <path>=<value>, got %q", args[0])
			}
			cfg, err := loadConfigUnverified(cmd, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if dryRun {
				current, err := cfg.GetPath(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Dry-run: would set %q from %v to %q\n", path, current, value)
				return nil
			}
			if err := cfg.SetPath(path, value); err != nil {
				return fmt.Errorf("apply failed: %w", err)
			}
			fmt.Fprintf(out, "Successfully set %q to %q\n", path, value)
			if _, err := config.LoadChecksums(filepath.Dir(cfg.SourceFiles[0])); err == nil {
				fmt.Fprintln(out, "Checksums are now stale; run 'exert config lock' to authorize the change.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview the change without writing")
	return cmd
}

func newConfigLockCmd(opts *cliOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Record BLAKE3 checksums of config and plan files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigUnverified(cmd, opts)
			if err != nil {
				return err
			}
			// Plans are read without verification so a stale manifest can be
			// replaced.
			set, err := plan.LoadDir(cfg.PipelinesDir)
			if err != nil {
				return err
			}

			paths := append(append([]string(nil), cfg.SourceFiles...), set.Files...)
			reports, err := config.Lock(paths)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range reports {
				fmt.Fprintf(out, "Wrote %s (%d file(s))\n", r.ChecksumPath, len(r.Files))
				if verbose {
					for _, f := range r.Files {
						fmt.Fprintf(out, "  %s  %s\n", f.Hash, f.Filename)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List each hashed file")
	return cmd
}

func newConfigCheckCmd(opts *cliOptions) *cobra.Command {
	var (
		format string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration against plans and local operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			set, err := loadPlans(cfg)
			if err != nil {
				return err
			}

			result := doctor.New(cfg, set, localRegistry()).Validate()
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			case "human":
				fmt.Fprint(out, doctor.FormatHuman(result))
			default:
				return fmt.Errorf("unknown format %q (expected human or json)", format)
			}

			if !result.Valid {
				return fmt.Errorf("configuration invalid: %d error(s)", len(result.Errors))
			}
			if strict && len(result.Warnings) > 0 {
				return fmt.Errorf("configuration has %d warning(s) (--strict)", len(result.Warnings))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "human", "Output format: human or json")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}
