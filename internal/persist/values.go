// Package persist keeps engine state in SQLite: the value store backing
// persistent context entries, and the ledger of finished exertions.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/exert/internal/data"
)

const DefaultMaxValueBytes = 1 << 20 // 1 MiB

var ErrValueNotFound = errors.New("value not found")

// storedValue wraps a value so a nested Context keeps its wire form.
type storedValue struct {
	Value   json.RawMessage `json:"value,omitempty"`
	Context *data.Context   `json:"context,omitempty"`
}

// Values implements data.Persister over the value_store table.
type Values struct {
	db            *sql.DB
	maxValueBytes int
	now           func() time.Time
}

var _ data.Persister = (*Values)(nil)

func NewValues(db *sql.DB) *Values {
	return &Values{
		db:            db,
		maxValueBytes: DefaultMaxValueBytes,
		now:           time.Now,
	}
}

// Store writes v and returns its handle.
func (s *Values) Store(ctx context.Context, v any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sv storedValue
	if c, ok := v.(*data.Context); ok {
		sv.Context = c
	} else {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal value: %w", err)
		}
		sv.Value = raw
	}
	blob, err := json.Marshal(sv)
	if err != nil {
		return "", fmt.Errorf("marshal stored value: %w", err)
	}
	if len(blob) > s.maxValueBytes {
		return "", fmt.Errorf("value exceeds max size (%d bytes)", s.maxValueBytes)
	}

	handle := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO value_store(handle, value, created_at)
VALUES(?, ?, ?);
`, handle, string(blob), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert value: %w", err)
	}
	return handle, nil
}

// Load returns the value stored under handle.
func (s *Values) Load(ctx context.Context, handle string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(handle) == "" {
		return nil, fmt.Errorf("value handle is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM value_store WHERE handle = ?;", handle).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrValueNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}

	var sv storedValue
	if err := json.Unmarshal([]byte(raw), &sv); err != nil {
		return nil, fmt.Errorf("stored value is invalid JSON for handle=%q: %w", handle, err)
	}
	if sv.Context != nil {
		return sv.Context, nil
	}
	return data.DecodeValue(sv.Value)
}

// Delete removes the value under handle. Missing handles are not an error.
func (s *Values) Delete(ctx context.Context, handle string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM value_store WHERE handle = ?;", handle); err != nil {
		return fmt.Errorf("delete value: %w", err)
	}
	return nil
}
