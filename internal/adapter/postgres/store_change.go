package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/domain/change"
)

const changeColumns = `id, task_id, description, files_changed, diff, branch, risk, status,
	test_output, error, approved_by, approved_at, applied_at, created_at`

// CreateChange inserts a new code change record.
func (s *Store) CreateChange(ctx context.Context, c *change.CodeChange) error {
	const q = `
		INSERT INTO code_changes (id, task_id, description, files_changed, diff, branch, risk, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.TaskID, c.Description, pgTextArray(c.FilesChanged),
		c.Diff, c.Branch, c.Risk, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create change: %w", err)
	}
	return nil
}

// GetChange returns a code change by id.
func (s *Store) GetChange(ctx context.Context, id string) (*change.CodeChange, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+changeColumns+` FROM code_changes WHERE id = $1`, id)

	c, err := scanChange(row)
	if err != nil {
		return nil, notFoundWrap(err, "get change %s", id)
	}
	return c, nil
}

// ListChanges returns changes filtered by status (all statuses when empty),
// newest first.
func (s *Store) ListChanges(ctx context.Context, status change.Status, limit int) ([]change.CodeChange, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + changeColumns + ` FROM code_changes`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []change.CodeChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, *c)
	}
	return changes, rows.Err()
}

// UpdateChangeStatus moves a change to a new status, recording the error
// message when present.
func (s *Store) UpdateChangeStatus(ctx context.Context, id string, status change.Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE code_changes SET status = $2, error = $3 WHERE id = $1`,
		id, string(status), errMsg)
	return execExpectOne(tag, err, "update change %s status", id)
}

// SetChangeArtifacts records the committed branch, diff, file list, risk and
// test output without touching the status. Used when a change parks in
// pending_approval: the work must stay findable for the human decision.
func (s *Store) SetChangeArtifacts(ctx context.Context, id, diff, branch string, files []string, risk int, testOutput string) error {
	const q = `
		UPDATE code_changes
		SET diff = $2, branch = $3, files_changed = $4, risk = $5, test_output = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, diff, branch, pgTextArray(files), risk, testOutput)
	return execExpectOne(tag, err, "set change %s artifacts", id)
}

// MarkChangeApplied records a successfully applied change with its artifacts.
func (s *Store) MarkChangeApplied(ctx context.Context, id, diff, branch string, files []string, risk int, testOutput string) error {
	const q = `
		UPDATE code_changes
		SET status = 'applied', diff = $2, branch = $3, files_changed = $4,
			risk = $5, test_output = $6, applied_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, diff, branch, pgTextArray(files), risk, testOutput)
	return execExpectOne(tag, err, "mark change %s applied", id)
}

// SetChangeApproval records a human approval decision.
func (s *Store) SetChangeApproval(ctx context.Context, id string, status change.Status, approvedBy string, approvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE code_changes SET status = $2, approved_by = $3, approved_at = $4 WHERE id = $1`,
		id, string(status), approvedBy, approvedAt)
	return execExpectOne(tag, err, "set change %s approval", id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChange(row scannable) (*change.CodeChange, error) {
	var (
		c      change.CodeChange
		status string
	)
	if err := row.Scan(
		&c.ID, &c.TaskID, &c.Description, &c.FilesChanged, &c.Diff, &c.Branch,
		&c.Risk, &status, &c.TestOutput, &c.Error, &c.ApprovedBy,
		&c.ApprovedAt, &c.AppliedAt, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = change.Status(status)
	return &c, nil
}
