// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Compile-time interface assertions.
var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend stores job records in a SQLite database file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// runs migrations. SQLite serializes writes, so the pool is capped at
// a single connection.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			message TEXT,
			input_params TEXT,
			result TEXT,
			error TEXT,
			cancel_reason TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			cancelled_at TEXT,
			estimated_completion TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_workflow ON jobs(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	}
	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, j *Job) error {
	inputJSON, err := marshalMap(j.InputParams)
	if err != nil {
		return fmt.Errorf("failed to marshal input_params: %w", err)
	}
	resultJSON, err := marshalMap(j.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	var errorJSON []byte
	if j.Error != nil {
		errorJSON, err = json.Marshal(j.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal error: %w", err)
		}
	}

	query := `
		INSERT INTO jobs (id, workflow_id, operation, status, progress, message,
			input_params, result, error, cancel_reason,
			created_at, started_at, completed_at, cancelled_at, estimated_completion)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			progress=excluded.progress,
			message=excluded.message,
			result=excluded.result,
			error=excluded.error,
			cancel_reason=excluded.cancel_reason,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at,
			cancelled_at=excluded.cancelled_at,
			estimated_completion=excluded.estimated_completion
	`
	_, err = b.db.ExecContext(ctx, query,
		j.ID, j.WorkflowID, string(j.Operation), string(j.Status), j.Progress,
		nullString(j.Message), nullBytes(inputJSON), nullBytes(resultJSON),
		nullBytes(errorJSON), nullString(j.CancelReason),
		j.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatTime(j.StartedAt), formatTime(j.CompletedAt),
		formatTime(j.CancelledAt), formatTime(j.EstimatedCompletion),
	)
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

const jobColumns = `id, workflow_id, operation, status, progress, message,
	input_params, result, error, cancel_reason,
	created_at, started_at, completed_at, cancelled_at, estimated_completion`

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Job, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &vferrors.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (b *SQLiteBackend) ListByWorkflow(ctx context.Context, workflowID string) ([]*Job, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (b *SQLiteBackend) ListActive(ctx context.Context) ([]*Job, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(StatusQueued), string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (b *SQLiteBackend) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?, ?)
		  AND COALESCE(completed_at, cancelled_at) < ?`,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled),
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept jobs: %w", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var operation, status string
	var message, inputJSON, resultJSON, errorJSON, cancelReason sql.NullString
	var createdAt string
	var startedAt, completedAt, cancelledAt, estimated sql.NullString

	err := row.Scan(
		&j.ID, &j.WorkflowID, &operation, &status, &j.Progress, &message,
		&inputJSON, &resultJSON, &errorJSON, &cancelReason,
		&createdAt, &startedAt, &completedAt, &cancelledAt, &estimated,
	)
	if err != nil {
		return nil, err
	}

	j.Operation = Operation(operation)
	j.Status = Status(status)
	j.Message = message.String
	j.CancelReason = cancelReason.String

	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &j.InputParams); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input_params: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &j.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	if errorJSON.Valid && errorJSON.String != "" {
		var detail ErrorDetail
		if err := json.Unmarshal([]byte(errorJSON.String), &detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
		j.Error = &detail
	}

	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.StartedAt = parseTime(startedAt)
	j.CompletedAt = parseTime(completedAt)
	j.CancelledAt = parseTime(cancelledAt)
	j.EstimatedCompletion = parseTime(estimated)
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return out, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
