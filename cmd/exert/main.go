package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/exert/internal/config"
	"github.com/mattjoyce/exert/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	configPath string
	logLevel   string
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "exert",
		Short: "Federated routine execution node",
		Long: `exert runs routine trees (tasks, jobs, blocks, pipelines) described
as YAML plans, locally or across provider nodes over HTTP.

Commands:
  run      - Exert a plan and print its resulting context
  serve    - Run this node's provider API
  worker   - Process PULL entries from the shared space
  watch    - Live event monitor for a running node
  ledger   - Report recorded exertions
  config   - Inspect, edit, lock and check configuration
  version  - Print build metadata`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(),
		"Path to configuration file or directory (env EXERT_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Override service.log_level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newWorkerCmd(opts),
		newWatchCmd(),
		newLedgerCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("EXERT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig loads the configured file and sets up logging to the
// command's error stream.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (*config.Config, error) {
	return setupConfig(cmd, opts, config.Load)
}

// loadConfigUnverified skips checksum verification, for commands that
// edit or re-lock configuration.
func loadConfigUnverified(cmd *cobra.Command, opts *cliOptions) (*config.Config, error) {
	return setupConfig(cmd, opts, config.LoadUnverified)
}

func setupConfig(cmd *cobra.Command, opts *cliOptions, load func(string) (*config.Config, error)) (*config.Config, error) {
	cfg, err := load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Service.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	log.SetupWith(cmd.ErrOrStderr(), level, cfg.Service.LogFormat)
	return cfg, nil
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version, commit and build time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersionInfo()
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("render version JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintf(out, "exert %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.Commit)
			fmt.Fprintf(out, "built_at: %s\n", info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output version metadata as JSON")
	return cmd
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
