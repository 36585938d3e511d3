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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxflow/voxflow/internal/client"
)

var analyzeKinds = map[string]client.AnalyzeKind{
	"summary":    client.AnalyzeSummary,
	"key-points": client.AnalyzeKeyPoints,
	"sentiment":  client.AnalyzeSentiment,
	"topics":     client.AnalyzeTopics,
}

func newAnalyzeCommand() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "analyze <summary|key-points|sentiment|topics> <workflow-id>",
		Short: "Run an immediate analysis over a workflow's transcript",
		Long: `Run an immediate analysis: no job is created, the result is returned
inline and recorded on the workflow. The transcript must exist unless
--text supplies the input directly.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := analyzeKinds[args[0]]
			if !ok {
				return fmt.Errorf("unknown analysis %q (want summary, key-points, sentiment, or topics)", args[0])
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			payload, err := c.Analyze(cmd.Context(), kind, client.AnalyzeRequest{
				WorkflowID: args[1],
				Text:       text,
			})
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Analyze this text instead of the workflow's transcript")
	return cmd
}
