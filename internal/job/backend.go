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
	"time"
)

// JobStore persists individual job records. Put is an upsert keyed by
// job id.
type JobStore interface {
	Put(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
}

// JobLister enumerates job records.
type JobLister interface {
	// ListByWorkflow returns every job for the workflow, newest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Job, error)
	// ListActive returns every non-terminal job.
	ListActive(ctx context.Context) ([]*Job, error)
}

// JobSweeper removes expired records.
type JobSweeper interface {
	// DeleteFinishedBefore deletes terminal jobs whose finishing
	// timestamp is older than cutoff and returns how many went.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Backend is the full persistence surface the store front requires.
type Backend interface {
	JobStore
	JobLister
	JobSweeper
	Close() error
}
