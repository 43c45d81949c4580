package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/routine"
)

// Ledger records finished top-level exertions in exertion_log.
type Ledger struct {
	db *sql.DB
}

var _ dispatch.Recorder = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Entry is one ledger row.
type Entry struct {
	ID        string
	RoutineID string
	Routine   string
	Kind      routine.Kind
	Status    routine.Status
	Faults    []string
	StartedAt time.Time
	Duration  time.Duration
}

// Record appends rec to the ledger.
func (l *Ledger) Record(ctx context.Context, rec dispatch.Record) error {
	faults, err := json.Marshal(rec.Faults)
	if err != nil {
		return fmt.Errorf("marshal faults: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO exertion_log(id, routine_id, routine, kind, status, faults, started_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`,
		uuid.NewString(),
		rec.RoutineID,
		rec.Routine,
		string(rec.Kind),
		rec.Status.String(),
		string(faults),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert exertion log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-empty name
// restricts the result to that routine.
func (l *Ledger) Recent(ctx context.Context, name string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT id, routine_id, routine, kind, status, faults, started_at, duration_ms
FROM exertion_log`
	args := []any{}
	if name != "" {
		q += " WHERE routine = ?"
		args = append(args, name)
	}
	q += " ORDER BY started_at DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query exertion log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			kind     string
			status   string
			faults   sql.NullString
			started  string
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.RoutineID, &e.Routine, &kind, &status, &faults, &started, &duration); err != nil {
			return nil, fmt.Errorf("scan exertion log: %w", err)
		}
		e.Kind = routine.Kind(kind)
		if err := e.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, fmt.Errorf("exertion %s: %w", e.ID, err)
		}
		if faults.Valid && faults.String != "" {
			if err := json.Unmarshal([]byte(faults.String), &e.Faults); err != nil {
				return nil, fmt.Errorf("decode faults for exertion %s: %w", e.ID, err)
			}
		}
		e.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse exertion_log.started_at: %w", err)
		}
		e.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exertion log rows: %w", err)
	}
	return out, nil
}
