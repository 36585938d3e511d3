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
	"sort"
	"sync"
	"time"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Compile-time interface assertions.
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps job records in a map. Used by tests and by
// deployments that opt out of durability with backend=memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{jobs: make(map[string]*Job)}
}

func (b *MemoryBackend) Put(_ context.Context, j *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[j.ID] = j.Clone()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (*Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, &vferrors.NotFoundError{Resource: "job", ID: id}
	}
	return j.Clone(), nil
}

func (b *MemoryBackend) ListByWorkflow(_ context.Context, workflowID string) ([]*Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Job
	for _, j := range b.jobs {
		if j.WorkflowID == workflowID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (b *MemoryBackend) ListActive(_ context.Context) ([]*Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Job
	for _, j := range b.jobs {
		if !j.Status.Terminal() {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (b *MemoryBackend) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	deleted := 0
	for id, j := range b.jobs {
		if !j.Status.Terminal() {
			continue
		}
		finished := j.CompletedAt
		if finished == nil {
			finished = j.CancelledAt
		}
		if finished != nil && finished.Before(cutoff) {
			delete(b.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (b *MemoryBackend) Close() error { return nil }
