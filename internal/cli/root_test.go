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

package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/client"
)

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	want := []string{"workflow", "run", "jobs", "analyze", "secret", "mcp-server", "health", "version"}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestRunSubcommands(t *testing.T) {
	root := NewRootCommand()
	run, _, err := root.Find([]string{"run", "upload"})
	require.NoError(t, err)
	assert.Equal(t, "upload", run.Name())

	for _, stage := range []string{"extract", "transcribe", "enhance"} {
		cmd, _, err := root.Find([]string{"run", stage})
		require.NoError(t, err)
		assert.Equal(t, stage, cmd.Name())
	}
}

func TestAnalyzeRejectsUnknownKind(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"analyze", "vibes", "wf-123"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analysis")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	apiErr := &client.APIError{Status: 409, Code: "STEP_PRECONDITION", Message: "nope"}
	assert.Equal(t, 2, ExitCode(fmt.Errorf("extract: %w", apiErr)))
}
