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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

func newSQLiteBackend(t *testing.T) (*SQLiteBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, path
}

func TestSQLiteRoundTrip(t *testing.T) {
	b, _ := newSQLiteBackend(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	j := &Job{
		ID:          NewID(),
		WorkflowID:  "wf_1",
		Operation:   OpTranscribe,
		Status:      StatusRunning,
		Progress:    42.5,
		Message:     "transcribing",
		InputParams: map[string]any{"quality": "balanced"},
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		StartedAt:   &started,
	}
	require.NoError(t, b.Put(ctx, j))

	got, err := b.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, OpTranscribe, got.Operation)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 42.5, got.Progress)
	assert.Equal(t, "balanced", got.InputParams["quality"])
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.Error)
}

func TestSQLiteUpsert(t *testing.T) {
	b, _ := newSQLiteBackend(t)
	ctx := context.Background()

	j := &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpUploadVideo, Status: StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, b.Put(ctx, j))

	j.Status = StatusFailed
	j.Error = &ErrorDetail{Code: "SOURCE_UNREACHABLE", Message: "refused", Retryable: true, RetryAfter: 60}
	require.NoError(t, b.Put(ctx, j))

	got, err := b.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "SOURCE_UNREACHABLE", got.Error.Code)
	assert.True(t, got.Error.Retryable)
	assert.Equal(t, 60, got.Error.RetryAfter)
}

func TestSQLiteGetMissing(t *testing.T) {
	b, _ := newSQLiteBackend(t)
	_, err := b.Get(context.Background(), NewID())
	var nf *vferrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "job", nf.Resource)
}

func TestSQLiteListByWorkflowOrder(t *testing.T) {
	b, _ := newSQLiteBackend(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	var ids []string
	for i := 0; i < 3; i++ {
		j := &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpUploadVideo, Status: StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, b.Put(ctx, j))
		ids = append(ids, j.ID)
	}
	require.NoError(t, b.Put(ctx, &Job{ID: NewID(), WorkflowID: "wf_other", Operation: OpUploadVideo,
		Status: StatusQueued, CreatedAt: base}))

	got, err := b.ListByWorkflow(ctx, "wf_1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[2], got[0].ID, "newest first")
	assert.Equal(t, ids[0], got[2].ID)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	b, path := newSQLiteBackend(t)
	ctx := context.Background()

	j := &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpEnhance, Status: StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, b.Put(ctx, j))
	require.NoError(t, b.Close())

	reopened, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer reopened.Close()

	active, err := reopened.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, j.ID, active[0].ID)
}

func TestSQLiteDeleteFinishedBefore(t *testing.T) {
	b, _ := newSQLiteBackend(t)
	ctx := context.Background()

	oldDone := time.Now().UTC().Add(-48 * time.Hour)
	oldCancelled := time.Now().UTC().Add(-30 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, b.Put(ctx, &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpUploadVideo,
		Status: StatusCompleted, CreatedAt: oldDone, CompletedAt: &oldDone}))
	require.NoError(t, b.Put(ctx, &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpTranscribe,
		Status: StatusCancelled, CreatedAt: oldCancelled, CancelledAt: &oldCancelled}))
	keep := &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpEnhance,
		Status: StatusCompleted, CreatedAt: recent, CompletedAt: &recent}
	require.NoError(t, b.Put(ctx, keep))
	require.NoError(t, b.Put(ctx, &Job{ID: NewID(), WorkflowID: "wf_1", Operation: OpExtractAudio,
		Status: StatusRunning, CreatedAt: oldDone}))

	n, err := b.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = b.Get(ctx, keep.ID)
	assert.NoError(t, err, "recent terminal job must survive")
	active, err := b.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "running job must survive regardless of age")
}
