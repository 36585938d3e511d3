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

// Package executor runs background jobs: one goroutine per job,
// bounded per operation kind by semaphore channels, each job under a
// context that merges daemon shutdown, per-job cancellation, and the
// operation timeout.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/observability"
	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// ErrDraining is returned by Submit once graceful shutdown has begun.
var ErrDraining = errors.New("executor is draining, not accepting new jobs")

// ProgressFunc reports handler progress in percent with a short
// human-readable message. Implementations clamp and rate-limit.
type ProgressFunc func(percent float64, message string)

// Handler executes one job operation. On success it must have
// completed the workflow step before returning; the executor then
// records the returned payload on the job. On error the executor
// fails the step (if still running) before recording the job error.
type Handler interface {
	Execute(ctx context.Context, j *job.Job, progress ProgressFunc) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, j *job.Job, progress ProgressFunc) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, j *job.Job, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, j, progress)
}

// Executor dispatches jobs to registered handlers.
type Executor struct {
	jobs      *job.Store
	workflows *workflow.Store
	logger    *slog.Logger

	handlers map[job.Operation]Handler
	sems     map[job.Operation]chan struct{}
	timeouts map[job.Operation]time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	active   atomic.Int64
	draining atomic.Bool

	metrics *observability.Metrics
}

// New builds an executor sized from the per-operation limits in cfg.
func New(cfg config.ExecutorConfig, jobs *job.Store, workflows *workflow.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	limits := map[job.Operation]config.OperationLimits{
		job.OpUploadVideo:  cfg.Upload,
		job.OpExtractAudio: cfg.Extract,
		job.OpTranscribe:   cfg.Transcribe,
		job.OpEnhance:      cfg.Enhance,
	}
	e := &Executor{
		jobs:       jobs,
		workflows:  workflows,
		logger:     logger,
		handlers:   make(map[job.Operation]Handler),
		sems:       make(map[job.Operation]chan struct{}),
		timeouts:   make(map[job.Operation]time.Duration),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
	for op, lim := range limits {
		n := lim.Concurrency
		if n < 1 {
			n = 1
		}
		e.sems[op] = make(chan struct{}, n)
		e.timeouts[op] = lim.Timeout
	}
	return e
}

// SetMetrics installs the metrics instruments. Call before the first
// Submit; a nil set is fine.
func (e *Executor) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// Register installs the handler for an operation kind.
func (e *Executor) Register(op job.Operation, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[op] = h
}

// Submit starts executing a queued job in the background. The job
// stays queued while it waits for an operation slot.
func (e *Executor) Submit(j *job.Job) error {
	if e.draining.Load() {
		return ErrDraining
	}
	e.mu.Lock()
	h, ok := e.handlers[j.Operation]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler registered for operation %s", j.Operation)
	}
	e.wg.Add(1)
	e.active.Add(1)
	go e.run(j.Clone(), h)
	return nil
}

// ActiveJobCount returns how many submitted jobs have not finished.
func (e *Executor) ActiveJobCount() int {
	return int(e.active.Load())
}

// StartDraining puts the executor into draining mode. Running jobs
// continue; new submissions are refused.
func (e *Executor) StartDraining() {
	e.draining.Store(true)
}

// IsDraining reports whether draining has begun.
func (e *Executor) IsDraining() bool {
	return e.draining.Load()
}

// WaitForDrain waits until every active job finishes or the timeout
// elapses.
func (e *Executor) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			if remaining := e.ActiveJobCount(); remaining > 0 {
				return fmt.Errorf("drain timeout: %d job(s) still running", remaining)
			}
			return nil
		case <-ticker.C:
			if e.ActiveJobCount() == 0 {
				return nil
			}
		}
	}
}

// Shutdown drains, then cancels whatever is still running.
func (e *Executor) Shutdown(ctx context.Context, drainTimeout time.Duration) error {
	e.StartDraining()
	err := e.WaitForDrain(ctx, drainTimeout)
	e.rootCancel()
	e.wg.Wait()
	return err
}

func (e *Executor) run(j *job.Job, h Handler) {
	defer e.wg.Done()
	defer e.active.Add(-1)

	// Merge the store's per-job cancellation handle into a context
	// rooted at the executor, so both daemon shutdown and a cancel
	// request stop the job.
	runCtx, cancel := context.WithCancelCause(e.rootCtx)
	defer cancel(nil)
	cancelCtx := e.jobs.CancellationContext(j.ID)
	stop := context.AfterFunc(cancelCtx, func() {
		cancel(context.Cause(cancelCtx))
	})
	defer stop()

	sem := e.sems[j.Operation]
	select {
	case sem <- struct{}{}:
	default:
		// All slots busy. Record why the job is sitting in the queue,
		// then block.
		e.jobs.UpdateProgress(context.Background(), j.ID, 0, "waiting for executor slot", nil)
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			status := e.finish(j, nil, context.Cause(runCtx), runCtx, nil)
			e.metrics.JobFinished(context.Background(), string(j.Operation), string(status), 0)
			return
		}
	}
	defer func() { <-sem }()

	if _, err := e.jobs.UpdateStatus(context.Background(), j.ID, job.StatusRunning, "starting"); err != nil {
		e.logger.Error("failed to mark job running", "job_id", j.ID, "error", err)
		return
	}

	timeout := e.timeouts[j.Operation]
	opCtx := runCtx
	var timeoutCancel context.CancelFunc
	if timeout > 0 {
		opCtx, timeoutCancel = context.WithTimeout(runCtx, timeout)
		defer timeoutCancel()
	}

	e.metrics.JobStarted(context.Background(), string(j.Operation))
	start := time.Now()

	sink := newProgressSink(e.jobs, j.ID, e.logger)
	result, err := e.execute(opCtx, j, h, sink.Report)
	status := e.finish(j, result, err, runCtx, opCtx)
	e.metrics.JobFinished(context.Background(), string(j.Operation), string(status), time.Since(start))
}

// execute invokes the handler with panic containment.
func (e *Executor) execute(ctx context.Context, j *job.Job, h Handler, progress ProgressFunc) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job handler panicked",
				"job_id", j.ID, "operation", j.Operation,
				"panic", r, "stack", string(debug.Stack()))
			err = &vferrors.JobError{
				Code:    vferrors.CodeInternal,
				Message: fmt.Sprintf("internal error executing %s", j.Operation),
			}
		}
	}()
	return h.Execute(ctx, j, progress)
}

// finish records the outcome: step first, then job, so a poller that
// sees a terminal job can always read the step result. Returns the
// job's terminal status.
func (e *Executor) finish(j *job.Job, result map[string]any, err error, runCtx, opCtx context.Context) job.Status {
	ctx := context.Background()
	if err == nil {
		done, serr := e.jobs.SetResult(ctx, j.ID, result)
		if serr != nil {
			// A cancel raced the handler's completion and finalized
			// the record first; the terminal record wins.
			if cur, ok := e.finalizedElsewhere(ctx, j, serr); ok {
				return cur
			}
			return job.StatusFailed
		}
		e.logger.Info("job completed", "job_id", j.ID, "operation", j.Operation)
		return done.Status
	}

	jobErr := e.classifyOutcome(err, runCtx, opCtx, e.timeouts[j.Operation])
	e.failStepIfRunning(j, jobErr)
	done, serr := e.jobs.SetError(ctx, j.ID, jobErr)
	if serr != nil {
		if cur, ok := e.finalizedElsewhere(ctx, j, serr); ok {
			return cur
		}
		return job.StatusFailed
	}
	e.logger.Warn("job finished with error",
		"job_id", j.ID, "operation", j.Operation,
		"code", jobErr.Code, "error", jobErr.Message)
	return done.Status
}

// finalizedElsewhere checks whether another writer (a cancel request)
// already landed the job in a terminal state, and returns that state.
func (e *Executor) finalizedElsewhere(ctx context.Context, j *job.Job, serr error) (job.Status, bool) {
	cur, gerr := e.jobs.Get(ctx, j.ID)
	if gerr == nil && cur.Status.Terminal() {
		e.logger.Debug("job already finalized",
			"job_id", j.ID, "status", cur.Status)
		return cur.Status, true
	}
	e.logger.Error("failed to record job outcome", "job_id", j.ID, "error", serr)
	return "", false
}

// classifyOutcome distinguishes an explicit cancellation from an
// operation timeout before falling back to generic classification.
func (e *Executor) classifyOutcome(err error, runCtx, opCtx context.Context, timeout time.Duration) *vferrors.JobError {
	if runCtx != nil {
		if cause := context.Cause(runCtx); cause != nil {
			var je *vferrors.JobError
			if errors.As(cause, &je) && je.Code == vferrors.CodeCancelled {
				return je
			}
		}
	}
	if opCtx != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return &vferrors.JobError{
			Code:       vferrors.CodeTimeout,
			Message:    fmt.Sprintf("operation timed out after %s", timeout),
			Retryable:  true,
			RetryAfter: timeout,
			Cause:      err,
		}
	}
	return vferrors.Classify(err)
}

// failStepIfRunning fails the workflow step a dead job was driving,
// but only when it is still marked running. A handler that already
// failed or completed the step wins.
func (e *Executor) failStepIfRunning(j *job.Job, jobErr *vferrors.JobError) {
	step := j.Operation.Step()
	w, err := e.workflows.Get(j.WorkflowID)
	if err != nil {
		e.logger.Warn("cannot load workflow to fail step",
			"workflow_id", j.WorkflowID, "job_id", j.ID, "error", err)
		return
	}
	if w.StepState(step).Status != workflow.StatusRunning {
		return
	}
	details := map[string]any{"job_id": j.ID}
	if _, err := e.workflows.FailStep(j.WorkflowID, step, string(jobErr.Code), jobErr.Message, details); err != nil {
		e.logger.Warn("failed to fail workflow step",
			"workflow_id", j.WorkflowID, "step", step, "error", err)
	}
}
