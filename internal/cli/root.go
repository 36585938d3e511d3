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

// Package cli implements the voxflow command line interface: operator
// access to a running daemon (workflows, pipeline stages, jobs,
// analyses) plus local secret management and the MCP stdio mode.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/voxflow/voxflow/internal/client"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build information, called from main.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

var (
	flagAPI    string
	flagAPIKey string
)

// NewRootCommand creates the root voxflow command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voxflow",
		Short: "VoxFlow - video transcription pipeline",
		Long: `VoxFlow drives a video through a transcription pipeline: upload,
audio extraction, transcription, and language-model enhancement, with
immediate analyses over the transcript. The daemon (voxflowd) does the
work; this CLI submits stages, polls jobs, and inspects workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagAPI, "api", "", "Daemon base URL (default http://127.0.0.1:8315/api/v1, env VOXFLOW_API)")
	cmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "API key for the daemon (env VOXFLOW_API_KEY)")

	// Accept underscore spellings (--api_key) alongside the dashed forms.
	cmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.AddCommand(newWorkflowCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newJobsCommand())
	cmd.AddCommand(newAnalyzeCommand())
	cmd.AddCommand(newSecretCommand())
	cmd.AddCommand(newMCPServerCommand())
	cmd.AddCommand(newHealthCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// newClient builds the daemon client from flags and environment.
func newClient() (*client.Client, error) {
	var opts []client.Option
	base := flagAPI
	if base == "" {
		base = os.Getenv("VOXFLOW_API")
	}
	if base != "" {
		opts = append(opts, client.WithBaseURL(base))
	}
	key := flagAPIKey
	if key == "" {
		key = os.Getenv("VOXFLOW_API_KEY")
	}
	if key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(opts...)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(v)
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			health, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(health)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voxflow %s (commit: %s, built: %s, %s/%s)\n",
				version, commit, buildDate, runtime.GOOS, runtime.GOARCH)
		},
	}
}

// ExitCode maps an error to the process exit code: 2 for daemon API
// errors (the daemon rejected the request), 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return 2
	}
	return 1
}
