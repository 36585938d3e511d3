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

package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxflow/voxflow/internal/job"
)

// minPersistInterval bounds how often progress reaches the job store.
const minPersistInterval = 100 * time.Millisecond

// etaFloor is the progress below which extrapolated completion times
// are too noisy to publish.
const etaFloor = 5.0

// progressSink funnels handler progress into the job store. It clamps
// to [0,100], enforces monotonicity, rate-limits persistence, and
// estimates completion by linear extrapolation once enough of the job
// has run. A report of 100 always flushes.
type progressSink struct {
	jobs   *job.Store
	jobID  string
	logger *slog.Logger

	mu        sync.Mutex
	started   time.Time
	last      float64
	lastWrite time.Time
	now       func() time.Time
}

func newProgressSink(jobs *job.Store, jobID string, logger *slog.Logger) *progressSink {
	return &progressSink{
		jobs:   jobs,
		jobID:  jobID,
		logger: logger,
		now:    time.Now,
	}
}

// Report implements ProgressFunc.
func (s *progressSink) Report(percent float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < s.last {
		percent = s.last
	}

	terminal := percent >= 100
	if !terminal && now.Sub(s.lastWrite) < minPersistInterval {
		return
	}

	var eta *time.Time
	if percent >= etaFloor && percent < 100 {
		elapsed := now.Sub(s.started)
		remaining := time.Duration(float64(elapsed) * (100 - percent) / percent)
		t := now.Add(remaining)
		eta = &t
	}

	s.last = percent
	s.lastWrite = now
	if _, err := s.jobs.UpdateProgress(context.Background(), s.jobID, percent, message, eta); err != nil {
		s.logger.Debug("progress update dropped", "job_id", s.jobID, "error", err)
	}
}
