// Package audit records tool invocations in the audit_invocations table.
//
// One row is written per tools/call issued on behalf of a device,
// whatever the outcome. Conversation content never lands here; the
// detail column carries at most an error string.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Invocation outcomes.
const (
	// OutcomeSuccess means the capability server returned a result.
	OutcomeSuccess = "success"

	// OutcomeToolError means the server answered with isError=true.
	OutcomeToolError = "tool_error"

	// OutcomeTransportError means the call never completed (timeout,
	// broker failure, malformed response).
	OutcomeTransportError = "transport_error"
)

// Pagination bounds for List queries.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Invocation represents a single recorded tools/call.
type Invocation struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	ServerName string    `json:"server_name"`
	ToolName   string    `json:"tool_name"`
	Outcome    string    `json:"outcome"`
	DurationMS int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which invocations to return.
type Filter struct {
	DeviceID   string // optional: filter by device
	ServerName string // optional: filter by capability server
	Outcome    string // optional: success, tool_error, transport_error
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated invocation results.
type ListResult struct {
	Invocations []Invocation `json:"invocations"`
	Total       int          `json:"total"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// Repository defines the interface for invocation records.
type Repository interface {
	Record(ctx context.Context, inv *Invocation) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores invocations in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new invocation repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new invocation. The ID and CreatedAt are generated if
// empty. The outcome is enforced by a CHECK constraint, so an unknown
// value surfaces as an insert error rather than a silent bad row.
func (r *SQLiteRepository) Record(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = "inv-" + uuid.NewString()[:8]
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_invocations (id, device_id, server_name, tool_name, outcome, duration_ms, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.DeviceID, inv.ServerName, inv.ToolName,
		inv.Outcome, inv.DurationMS, inv.Detail,
		inv.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	return nil
}

// List returns invocations matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.ServerName != "" {
		conditions = append(conditions, "server_name = ?")
		args = append(args, filter.ServerName)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_invocations %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting invocations: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device_id, server_name, tool_name, outcome, duration_ms, detail, created_at FROM audit_invocations %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var invocations []Invocation
	for rows.Next() {
		var inv Invocation
		var createdAt string

		if err := rows.Scan(&inv.ID, &inv.DeviceID, &inv.ServerName, &inv.ToolName,
			&inv.Outcome, &inv.DurationMS, &inv.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing invocation timestamp %q: %w", createdAt, err)
		}
		inv.CreatedAt = t

		invocations = append(invocations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}

	if invocations == nil {
		invocations = []Invocation{}
	}

	return &ListResult{
		Invocations: invocations,
		Total:       total,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}, nil
}
