// Package space is the shared work space behind PULL routines. Dispatchers
// write routine trees into the sqlite space_entry table; workers take the
// oldest written entry, exert it with PUSH access and write the outcome
// back for the waiting dispatcher.
package space

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/wire"
)

// Event types published on the hub.
const (
	EventWritten   = "space.written"
	EventTaken     = "space.taken"
	EventCompleted = "space.completed"
)

// DefaultPollInterval is how often Await checks for a completed entry.
const DefaultPollInterval = 50 * time.Millisecond

var ErrEntryNotFound = errors.New("space entry not found")

// Space stores PULL routines in sqlite.
type Space struct {
	db     *sql.DB
	events dispatch.Publisher
	poll   time.Duration
	now    func() time.Time
}

var _ dispatch.Spacer = (*Space)(nil)

// Option configures a Space.
type Option func(*Space)

// WithEvents publishes written, taken and completed events on p.
func WithEvents(p dispatch.Publisher) Option { return func(s *Space) { s.events = p } }

// WithPollInterval sets how often Await polls for completion.
func WithPollInterval(d time.Duration) Option {
	return func(s *Space) {
		if d > 0 {
			s.poll = d
		}
	}
}

func New(db *sql.DB, opts ...Option) *Space {
	s := &Space{db: db, poll: DefaultPollInterval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write encodes r and stores it as a written entry.
func (s *Space) Write(ctx context.Context, r routine.Routine) (string, error) {
	w, err := wire.EncodeRoutine(r)
	if err != nil {
		return "", fmt.Errorf("encode routine: %w", err)
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal routine: %w", err)
	}
	executor, err := json.Marshal(r.Executor())
	if err != nil {
		return "", fmt.Errorf("marshal executor: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO space_entry(id, routine_id, routine, kind, executor, payload, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, r.ID(), r.Name(), string(r.Kind()), string(executor), string(payload), StatusWritten, s.stamp())
	if err != nil {
		return "", fmt.Errorf("insert space entry: %w", err)
	}
	s.publish(EventWritten, map[string]any{"entry_id": id, "routine_id": r.ID(), "routine": r.Name()})
	return id, nil
}

// Take claims the oldest written entry for worker. It returns (nil, nil)
// when the space is empty.
func (s *Space) Take(ctx context.Context, worker string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM space_entry
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE space_entry
SET status = ?, worker = ?, taken_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, routine_id, routine, kind, payload, status, created_at, taken_at;
`, StatusWritten, StatusTaken, worker, s.stamp())

	var (
		e        Entry
		kind     string
		payload  string
		status   string
		created  string
		takenAtS sql.NullString
	)
	err := row.Scan(&e.ID, &e.RoutineID, &e.Routine, &kind, &payload, &status, &created, &takenAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take space entry: %w", err)
	}
	e.Kind = routine.Kind(kind)
	e.Status = Status(status)
	e.Worker = worker
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of entry %s: %w", e.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = t
	}
	if takenAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, takenAtS.String); err == nil {
			e.TakenAt = &t
		}
	}
	s.publish(EventTaken, map[string]any{"entry_id": e.ID, "routine": e.Routine, "worker": worker})
	return &e, nil
}

// Complete records the outcome of a taken entry.
func (s *Space) Complete(ctx context.Context, id string, out *dispatch.SpaceOutcome) error {
	if id == "" {
		return fmt.Errorf("entry id is empty")
	}
	if out == nil || !out.Status.IsTerminal() {
		return fmt.Errorf("entry %s: outcome must carry a final status", id)
	}
	result, err := json.Marshal(resultRecord{Status: out.Status, Context: out.Context})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	faults, err := json.Marshal(out.Faults)
	if err != nil {
		return fmt.Errorf("marshal faults: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE space_entry
SET status = ?, result = ?, faults = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, StatusCompleted, string(result), string(faults), s.stamp(), id, StatusTaken)
	if err != nil {
		return fmt.Errorf("complete space entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete space entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s is not taken: %w", id, ErrEntryNotFound)
	}
	s.publish(EventCompleted, map[string]any{"entry_id": id, "status": out.Status.String()})
	return nil
}

// Await polls until entry id is completed or ctx is done.
func (s *Space) Await(ctx context.Context, id string) (*dispatch.SpaceOutcome, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		out, err := s.outcome(ctx, id)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Get returns the entry with id, whatever its status.
func (s *Space) Get(ctx context.Context, id string) (*Entry, error) {
	var (
		e       Entry
		kind    string
		status  string
		worker  sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, routine_id, routine, kind, status, worker, created_at
FROM space_entry
WHERE id = ?;
`, id).Scan(&e.ID, &e.RoutineID, &e.Routine, &kind, &status, &worker, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get space entry: %w", err)
	}
	e.Kind = routine.Kind(kind)
	e.Status = Status(status)
	e.Worker = worker.String
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}

// Release returns every taken entry to written. Workers call it on start
// so entries held by a crashed worker are taken again.
func (s *Space) Release(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE space_entry
SET status = ?, worker = NULL, taken_at = NULL
WHERE status = ?;
`, StatusWritten, StatusTaken)
	if err != nil {
		return 0, fmt.Errorf("release taken entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release taken entries: %w", err)
	}
	return int(n), nil
}

func (s *Space) outcome(ctx context.Context, id string) (*dispatch.SpaceOutcome, error) {
	var (
		status string
		result sql.NullString
		faults sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT status, result, faults FROM space_entry WHERE id = ?;
`, id).Scan(&status, &result, &faults)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load space entry: %w", err)
	}
	if Status(status) != StatusCompleted {
		return nil, nil
	}

	var rec resultRecord
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &rec); err != nil {
			return nil, fmt.Errorf("decode result of entry %s: %w", id, err)
		}
	}
	out := &dispatch.SpaceOutcome{Status: rec.Status, Context: rec.Context}
	if faults.Valid && faults.String != "" {
		if err := json.Unmarshal([]byte(faults.String), &out.Faults); err != nil {
			return nil, fmt.Errorf("decode faults of entry %s: %w", id, err)
		}
	}
	return out, nil
}

func (s *Space) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Space) publish(eventType string, payload any) {
	if s.events != nil {
		s.events.Publish(eventType, payload)
	}
}

type resultRecord struct {
	Status  routine.Status `json:"status"`
	Context *data.Context  `json:"context,omitempty"`
}
