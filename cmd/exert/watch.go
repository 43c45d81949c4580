package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/exert/internal/tui/watch"
)

func newWatchCmd() *cobra.Command {
	var apiURL, apiKey string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live event monitor for a running node",
		Long: `Real-time monitoring TUI. Shows node health, routines in flight,
space entries and the raw event stream.

Keybindings:
  q, Ctrl+C        Quit
  ↑/↓, k/j         Navigate routines`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := watch.New(apiURL, apiKey)
			p := tea.NewProgram(m, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Node API URL")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("EXERT_API_KEY"), "API Bearer Token (or EXERT_API_KEY env var)")
	return cmd
}
