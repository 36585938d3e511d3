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
	"fmt"
	"log/slog"
	"sync"
	"time"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Store is the job state front: it owns status transitions, progress
// clamping, and the in-memory cancellation registry, and delegates
// persistence to a Backend. Cancellation contexts are never persisted;
// after a restart the recovery sweep fails whatever was in flight.
type Store struct {
	backend Backend
	logger  *slog.Logger
	ttl     time.Duration

	mu      sync.Mutex // serializes read-modify-write mutations
	cancels map[string]*cancelEntry
}

type cancelEntry struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewStore wraps a backend. ttl bounds how long terminal records are
// kept by SweepExpired.
func NewStore(backend Backend, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		ttl:     ttl,
		cancels: make(map[string]*cancelEntry),
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Create persists a new queued job. At most one non-terminal job may
// exist per (workflow, operation); a duplicate submission returns
// ConflictError and creates nothing.
func (s *Store) Create(ctx context.Context, workflowID string, op Operation, params map[string]any) (*Job, error) {
	if !KnownOperation(op) {
		return nil, &vferrors.ValidationError{Field: "operation", Message: fmt.Sprintf("unknown operation %q", op)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.backend.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, j := range existing {
		if j.Operation == op && !j.Status.Terminal() {
			return nil, &ConflictError{WorkflowID: workflowID, Operation: op, ExistingJobID: j.ID}
		}
	}

	j := &Job{
		ID:          NewID(),
		WorkflowID:  workflowID,
		Operation:   op,
		Status:      StatusQueued,
		InputParams: params,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.backend.Put(ctx, j); err != nil {
		return nil, err
	}
	s.registerLocked(j.ID)
	s.logger.Debug("job created", "job_id", j.ID, "workflow_id", workflowID, "operation", op)
	return j.Clone(), nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	if !IDPattern.MatchString(id) {
		return nil, &vferrors.ValidationError{Field: "job_id", Message: "job_id must be job_ followed by a UUID"}
	}
	return s.backend.Get(ctx, id)
}

// ListByWorkflow returns the workflow's jobs, newest first.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*Job, error) {
	return s.backend.ListByWorkflow(ctx, workflowID)
}

// UpdateStatus applies a lifecycle transition. Terminal states are
// final; an invalid transition returns STEP_PRECONDITION.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, message string) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if err := applyTransition(j, status); err != nil {
			return err
		}
		if message != "" {
			j.Message = message
		}
		return nil
	})
}

// UpdateProgress records progress for a non-terminal job. Values are
// clamped to [0,100] and never move backwards; updates against a
// terminal job are dropped silently.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64, message string, eta *time.Time) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return nil
		}
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		if message != "" {
			j.Message = message
		}
		if eta != nil {
			j.EstimatedCompletion = eta
		}
		return nil
	})
}

// SetResult completes the job with its payload.
func (s *Store) SetResult(ctx context.Context, id string, payload map[string]any) (*Job, error) {
	return s.mutate(ctx, id, func(j *Job) error {
		if err := applyTransition(j, StatusCompleted); err != nil {
			return err
		}
		j.Progress = 100
		j.Result = payload
		j.Error = nil
		return nil
	})
}

// SetError finishes the job with a classified error. A CANCELLED
// error lands the job in cancelled; everything else in failed.
func (s *Store) SetError(ctx context.Context, id string, cause error) (*Job, error) {
	detail := ErrorDetailFrom(cause)
	target := StatusFailed
	if detail.Code == string(vferrors.CodeCancelled) {
		target = StatusCancelled
	}
	return s.mutate(ctx, id, func(j *Job) error {
		if err := applyTransition(j, target); err != nil {
			return err
		}
		j.Error = detail
		if j.Message == "" || target == StatusCancelled {
			j.Message = detail.Message
		}
		return nil
	})
}

// Cancel marks a queued or running job cancelled and fires its
// cancellation context. It returns false when the job is already
// terminal. The record turns terminal here, inside one locked write,
// so a handler that completes after the cancel signal loses: its late
// SetResult is rejected by the terminal-state guard.
func (s *Store) Cancel(ctx context.Context, id string, reason string) (bool, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	cancelled := false
	if _, err := s.mutate(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return nil
		}
		if err := applyTransition(j, StatusCancelled); err != nil {
			return err
		}
		j.CancelReason = reason
		j.Message = reason
		j.Error = &ErrorDetail{Code: string(vferrors.CodeCancelled), Message: reason}
		cancelled = true
		return nil
	}); err != nil {
		return false, err
	}
	if !cancelled {
		return false, nil
	}
	s.logger.Info("job cancelled", "job_id", id, "reason", reason)
	return true, nil
}

// CancellationContext returns the context the executor must derive the
// job's run context from. It is cancelled when Cancel is called.
func (s *Store) CancellationContext(id string) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(id).ctx
}

// ActiveCount returns how many jobs are queued or running.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	active, err := s.backend.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// SweepExpired deletes terminal records older than the store TTL.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	return s.backend.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-s.ttl))
}

// RunSweeper runs SweepExpired every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Warn("job ttl sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("swept expired jobs", "deleted", n)
			}
		}
	}
}

// RecoverInterrupted fails every queued or running record left behind
// by a previous process. Called once at startup, before the executor
// starts. Returns the recovered jobs so the caller can fail their
// workflow steps too.
func (s *Store) RecoverInterrupted(ctx context.Context) ([]*Job, error) {
	active, err := s.backend.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var recovered []*Job
	for _, j := range active {
		updated, err := s.mutate(ctx, j.ID, func(j *Job) error {
			if j.Status.Terminal() {
				return nil
			}
			if err := applyTransition(j, StatusFailed); err != nil {
				return err
			}
			j.Error = &ErrorDetail{
				Code:      string(vferrors.CodeRestartInterrupted),
				Message:   "job interrupted by server restart",
				Retryable: true,
			}
			j.Message = "interrupted by server restart"
			return nil
		})
		if err != nil {
			return recovered, err
		}
		recovered = append(recovered, updated)
	}
	if len(recovered) > 0 {
		s.logger.Info("recovered interrupted jobs", "count", len(recovered))
	}
	return recovered, nil
}

// mutate runs a read-modify-write cycle under the store lock and
// releases the cancellation handle when the job turns terminal.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	if !IDPattern.MatchString(id) {
		return nil, &vferrors.ValidationError{Field: "job_id", Message: "job_id must be job_ followed by a UUID"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	if err := s.backend.Put(ctx, j); err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		if entry, ok := s.cancels[id]; ok {
			entry.cancel(terminalCause(j))
			delete(s.cancels, id)
		}
	}
	return j.Clone(), nil
}

// terminalCause is the cause delivered to a job's cancellation
// context when its record turns terminal. Cancelled jobs carry the
// CANCELLED error so the executor classifies the interruption
// correctly; other terminal states release the context silently.
func terminalCause(j *Job) error {
	if j.Status == StatusCancelled && j.Error != nil {
		return &vferrors.JobError{Code: vferrors.CodeCancelled, Message: j.Error.Message}
	}
	return nil
}

func (s *Store) registerLocked(id string) *cancelEntry {
	if entry, ok := s.cancels[id]; ok {
		return entry
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	entry := &cancelEntry{ctx: ctx, cancel: cancel}
	s.cancels[id] = entry
	return entry
}

// applyTransition validates and applies a status change, stamping the
// matching timestamp exactly once.
func applyTransition(j *Job, to Status) error {
	if j.Status == to {
		return nil
	}
	if !canTransition(j.Status, to) {
		return &vferrors.PreconditionError{
			Step:    string(j.Operation),
			Message: fmt.Sprintf("job %s cannot go from %s to %s", j.ID, j.Status, to),
		}
	}
	now := time.Now().UTC()
	j.Status = to
	switch to {
	case StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		if j.CompletedAt == nil {
			j.CompletedAt = &now
		}
	case StatusCancelled:
		if j.CancelledAt == nil {
			j.CancelledAt = &now
		}
	}
	return nil
}
