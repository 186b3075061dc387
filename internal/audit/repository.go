// Package audit records the outcome of every write-back request so operators
// can see which values were changed, rejected or failed, and why.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one terminal write request.
type Entry struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"request_id"`
	Path           string        `json:"path"`
	Payload        string        `json:"payload"`
	State          string        `json:"state"`
	Reason         string        `json:"reason,omitempty"`
	ConfirmedValue string        `json:"confirmed_value,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Path   string // optional exact device path
	State  string // optional: confirmed, rejected, failed
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists write audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository persists entries in the write_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "wr-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO write_audit (id, request_id, path, payload, state, reason, confirmed_value, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.Path, entry.Payload, entry.State,
		nullableString(entry.Reason), nullableString(entry.ConfirmedValue),
		entry.Duration.Milliseconds(),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting write audit entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Path != "" {
		conditions = append(conditions, "path = ?")
		args = append(args, filter.Path)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM write_audit " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting write audit entries: %w", err)
	}

	query := "SELECT id, request_id, path, payload, state, reason, confirmed_value, duration_ms, created_at FROM write_audit " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying write audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, filter.Limit)
	for rows.Next() {
		var (
			e                 Entry
			reason, confirmed sql.NullString
			durationMS        int64
			createdAt         string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Path, &e.Payload, &e.State,
			&reason, &confirmed, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning write audit entry: %w", err)
		}
		e.Reason = reason.String
		e.ConfirmedValue = confirmed.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating write audit entries: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
