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

package workflow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

var workflowIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store keeps one JSON file per workflow under dir. Every mutation is
// a read-modify-write of the whole record under a per-workflow lock,
// flushed with a temp file and rename so a crash never leaves a
// half-written record behind.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the state directory if needed and returns a store
// rooted there.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("workflow store: dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow store: resolving dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("workflow store: creating dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    abs,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// NewID returns a fresh workflow identifier: "wf_" plus 32 hex chars.
func NewID() string {
	id := uuid.New()
	return "wf_" + hex.EncodeToString(id[:])
}

// Create persists a new workflow record and returns it.
func (s *Store) Create(input string, options map[string]any) (*Workflow, error) {
	now := time.Now().UTC()
	w := &Workflow{
		ID:              NewID(),
		SchemaVersion:   SchemaVersion,
		CreatedAt:       now,
		LastUpdated:     now,
		OriginalInput:   input,
		OriginalOptions: options,
		Steps:           make(map[StepName]*Step),
	}
	lock := s.lockFor(w.ID)
	lock.Lock()
	defer lock.Unlock()
	if err := s.save(w); err != nil {
		return nil, err
	}
	s.logger.Debug("workflow created", "workflow_id", w.ID)
	return w, nil
}

// Get loads a workflow record. The returned value is the caller's own
// copy; mutating it does not touch persisted state.
func (s *Store) Get(id string) (*Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return s.load(id)
}

// Exists reports whether a record for id is on disk.
func (s *Store) Exists(id string) bool {
	if validateID(id) != nil {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// List loads every workflow record in the state directory, skipping
// files that fail to parse.
func (s *Store) List() ([]*Workflow, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("workflow store: reading dir: %w", err)
	}
	var out []*Workflow
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		w, err := s.Get(id)
		if err != nil {
			s.logger.Warn("skipping unreadable workflow record", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// Update merges non-nil patch fields into the top-level record.
func (s *Store) Update(id string, patch Patch) (*Workflow, error) {
	return s.mutate(id, func(w *Workflow) error {
		if patch.OriginalInput != nil {
			w.OriginalInput = *patch.OriginalInput
		}
		if patch.OriginalOptions != nil {
			w.OriginalOptions = patch.OriginalOptions
		}
		return nil
	})
}

// StartStep transitions a step to running. Pending and failed steps
// may start whenever their dependency has completed; completed and
// skipped steps require force, which also clears the previous result.
// A step that is already running is never restarted.
func (s *Store) StartStep(id string, step StepName, force bool) (*Workflow, error) {
	if !Known(step) {
		return nil, &vferrors.ValidationError{Field: "step", Message: fmt.Sprintf("unknown step %q", step)}
	}
	return s.mutate(id, func(w *Workflow) error {
		st := w.StepState(step)
		switch st.Status {
		case StatusRunning:
			return &vferrors.PreconditionError{
				Step:    string(step),
				Message: fmt.Sprintf("step %s is already running", step),
			}
		case StatusCompleted, StatusSkipped:
			if !force {
				return &vferrors.PreconditionError{
					Step:    string(step),
					Message: fmt.Sprintf("step %s already finished with status %s; use force to restart", step, st.Status),
				}
			}
		}
		if dep := DependencyOf(step); dep != "" && !w.StepCompleted(dep) {
			return &vferrors.PreconditionError{
				Step:     string(step),
				Requires: string(dep),
				Message:  fmt.Sprintf("step %s requires %s to be completed first", step, dep),
			}
		}
		now := time.Now().UTC()
		w.Steps[step] = &Step{Status: StatusRunning, StartedAt: &now}
		return nil
	})
}

// CompleteStep records a running step's typed result and marks it
// completed.
func (s *Store) CompleteStep(id string, step StepName, result any) (*Workflow, error) {
	raw, err := encodeResult(step, result)
	if err != nil {
		return nil, err
	}
	return s.mutate(id, func(w *Workflow) error {
		st := w.StepState(step)
		if st.Status != StatusRunning {
			return &vferrors.PreconditionError{
				Step:    string(step),
				Message: fmt.Sprintf("cannot complete step %s with status %s", step, st.Status),
			}
		}
		now := time.Now().UTC()
		st.Status = StatusCompleted
		st.CompletedAt = &now
		st.Error = nil
		st.Result = raw
		w.Steps[step] = st
		return nil
	})
}

// FailStep marks a running step failed with the given error detail.
func (s *Store) FailStep(id string, step StepName, code, message string, details map[string]any) (*Workflow, error) {
	return s.mutate(id, func(w *Workflow) error {
		st := w.StepState(step)
		if st.Status != StatusRunning {
			return &vferrors.PreconditionError{
				Step:    string(step),
				Message: fmt.Sprintf("cannot fail step %s with status %s", step, st.Status),
			}
		}
		now := time.Now().UTC()
		st.Status = StatusFailed
		st.FailedAt = &now
		st.Error = &StepError{Code: code, Message: message, Details: details}
		w.Steps[step] = st
		return nil
	})
}

// SkipStep marks a pending step skipped.
func (s *Store) SkipStep(id string, step StepName) (*Workflow, error) {
	return s.mutate(id, func(w *Workflow) error {
		st := w.StepState(step)
		if st.Status != StatusPending {
			return &vferrors.PreconditionError{
				Step:    string(step),
				Message: fmt.Sprintf("cannot skip step %s with status %s", step, st.Status),
			}
		}
		now := time.Now().UTC()
		w.Steps[step] = &Step{Status: StatusSkipped, CompletedAt: &now}
		return nil
	})
}

// SetStepResult runs a step to completion in a single write: start and
// finish stamped together. Used by synchronous analyses that compute
// their result inline rather than through a job. The caller enforces
// input preconditions; a running step is never overwritten.
func (s *Store) SetStepResult(id string, step StepName, result any) (*Workflow, error) {
	raw, err := encodeResult(step, result)
	if err != nil {
		return nil, err
	}
	return s.mutate(id, func(w *Workflow) error {
		st := w.StepState(step)
		if st.Status == StatusRunning {
			return &vferrors.PreconditionError{
				Step:    string(step),
				Message: fmt.Sprintf("step %s is currently running", step),
			}
		}
		now := time.Now().UTC()
		w.Steps[step] = &Step{
			Status:      StatusCompleted,
			StartedAt:   &now,
			CompletedAt: &now,
			Result:      raw,
		}
		return nil
	})
}

// StepResult returns the persisted result payload for a completed
// step.
func (s *Store) StepResult(id string, step StepName) (json.RawMessage, error) {
	w, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	st := w.StepState(step)
	if st.Status != StatusCompleted || len(st.Result) == 0 {
		return nil, &vferrors.PreconditionError{
			Step:    string(step),
			Message: fmt.Sprintf("step %s has no completed result (status %s)", step, st.Status),
		}
	}
	return st.Result, nil
}

// Delete removes a workflow record. Deleting a missing record is not
// an error.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workflow store: deleting %s: %w", id, err)
	}
	return nil
}

// mutate loads the record, applies fn, and saves under the workflow's
// lock. last_updated only ever moves forward.
func (s *Store) mutate(id string, fn func(*Workflow) error) (*Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	if now := time.Now().UTC(); now.After(w.LastUpdated) {
		w.LastUpdated = now
	}
	if err := s.save(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) load(id string) (*Workflow, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &vferrors.NotFoundError{Resource: "workflow", ID: id}
		}
		return nil, fmt.Errorf("workflow store: reading %s: %w", id, err)
	}
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("workflow store: parsing %s: %w", id, err)
	}
	if w.Steps == nil {
		w.Steps = make(map[StepName]*Step)
	}
	return &w, nil
}

func (s *Store) save(w *Workflow) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow store: encoding %s: %w", w.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, w.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("workflow store: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("workflow store: writing %s: %w", w.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("workflow store: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(w.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("workflow store: replacing %s: %w", w.ID, err)
	}
	return nil
}

func validateID(id string) error {
	if !workflowIDPattern.MatchString(id) {
		return &vferrors.ValidationError{
			Field:   "workflow_id",
			Message: "workflow_id must match [A-Za-z0-9_-]{1,128}",
		}
	}
	return nil
}
