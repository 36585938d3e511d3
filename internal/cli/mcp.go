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
	"github.com/spf13/cobra"

	"github.com/voxflow/voxflow/internal/daemon"
)

func newMCPServerCommand() *cobra.Command {
	var configPath, dataDir string
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the pipeline as MCP tools on stdio",
		Long: `Run an in-process daemon and expose the pipeline as MCP tools over
stdio, for agent hosts that spawn tool servers directly. The HTTP API
binds an ephemeral localhost port while the tools are being served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.Run(daemon.RunOptions{
				Version:    version,
				Commit:     commit,
				BuildDate:  buildDate,
				ConfigPath: configPath,
				Listen:     "127.0.0.1:0",
				DataDir:    dataDir,
				MCP:        true,
			})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "State directory override")
	return cmd
}
