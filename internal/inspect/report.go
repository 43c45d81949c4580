// Package inspect renders exertion history from the run ledger.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/exert/internal/persist"
)

// LedgerReader lists recorded exertions, newest first.
type LedgerReader interface {
	Recent(ctx context.Context, name string, limit int) ([]persist.Entry, error)
}

// Report is the structured JSON representation of a ledger report.
type Report struct {
	Routine   string         `json:"routine,omitempty"`
	Runs      int            `json:"runs"`
	ByStatus  map[string]int `json:"by_status"`
	MeanMS    int64          `json:"mean_duration_ms"`
	LastFault string         `json:"last_fault,omitempty"`
	Entries   []Run          `json:"entries"`
}

// Run is one recorded exertion.
type Run struct {
	ID         string    `json:"id"`
	RoutineID  string    `json:"routine_id"`
	Routine    string    `json:"routine"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Faults     []string  `json:"faults,omitempty"`
}

// BuildReport renders a terminal-friendly ledger report. An empty name
// covers every routine.
func BuildReport(ctx context.Context, ledger LedgerReader, name string, limit int) (string, error) {
	report, err := gatherReportData(ctx, ledger, name, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Ledger Report\n")
	fmt.Fprintf(&out, "Routine     : %s\n", renderUnset(report.Routine, "<all>"))
	fmt.Fprintf(&out, "Runs        : %d\n", report.Runs)
	fmt.Fprintf(&out, "Statuses    : %s\n", renderStatuses(report.ByStatus))
	fmt.Fprintf(&out, "Mean        : %s\n", time.Duration(report.MeanMS)*time.Millisecond)
	if report.LastFault != "" {
		fmt.Fprintf(&out, "Last fault  : %s\n", report.LastFault)
	}
	fmt.Fprintf(&out, "\n")

	for _, run := range report.Entries {
		fmt.Fprintf(&out, "%s %-9s %-8s %s (%s)\n",
			run.StartedAt.Format(time.RFC3339),
			run.Status,
			run.Kind,
			run.Routine,
			time.Duration(run.DurationMS)*time.Millisecond,
		)
		fmt.Fprintf(&out, "    routine_id : %s\n", run.RoutineID)
		for _, f := range run.Faults {
			fmt.Fprintf(&out, "    fault      : %s\n", f)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable ledger report.
func BuildJSONReport(ctx context.Context, ledger LedgerReader, name string, limit int) (string, error) {
	report, err := gatherReportData(ctx, ledger, name, limit)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, ledger LedgerReader, name string, limit int) (*Report, error) {
	entries, err := ledger.Recent(ctx, strings.TrimSpace(name), limit)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if name != "" && len(entries) == 0 {
		return nil, fmt.Errorf("no exertions recorded for routine %q", name)
	}

	report := &Report{
		Routine:  name,
		Runs:     len(entries),
		ByStatus: make(map[string]int),
		Entries:  make([]Run, 0, len(entries)),
	}

	var total time.Duration
	for _, e := range entries {
		status := e.Status.String()
		report.ByStatus[status]++
		total += e.Duration
		if report.LastFault == "" && len(e.Faults) > 0 {
			report.LastFault = e.Faults[0]
		}
		report.Entries = append(report.Entries, Run{
			ID:         e.ID,
			RoutineID:  e.RoutineID,
			Routine:    e.Routine,
			Kind:       string(e.Kind),
			Status:     status,
			StartedAt:  e.StartedAt,
			DurationMS: e.Duration.Milliseconds(),
			Faults:     e.Faults,
		})
	}
	if len(entries) > 0 {
		report.MeanMS = (total / time.Duration(len(entries))).Milliseconds()
	}
	return report, nil
}

func renderStatuses(byStatus map[string]int) string {
	if len(byStatus) == 0 {
		return "<none>"
	}
	keys := make([]string, 0, len(byStatus))
	for k := range byStatus {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, byStatus[k]))
	}
	return strings.Join(parts, " ")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
