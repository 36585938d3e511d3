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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxflow/voxflow/internal/client"
)

var (
	runForce bool
	runWait  bool
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit pipeline stages",
		Long: `Submit a pipeline stage to the daemon. Stages run in order: upload,
extract, transcribe, enhance. Each submission answers with a job id;
pass --wait to poll the job to completion.`,
	}
	cmd.PersistentFlags().BoolVar(&runForce, "force", false, "Re-run the stage even if it already completed")
	cmd.PersistentFlags().BoolVar(&runWait, "wait", false, "Poll the job until it finishes")

	cmd.AddCommand(newRunUploadCommand())
	cmd.AddCommand(newRunExtractCommand())
	cmd.AddCommand(newRunTranscribeCommand())
	cmd.AddCommand(newRunEnhanceCommand())
	return cmd
}

func newRunUploadCommand() *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "upload <source>",
		Short: "Upload a video from a URL, s3 location, or local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sub, err := c.UploadVideo(cmd.Context(), client.UploadRequest{
				SourceURL:  args[0],
				WorkflowID: workflowID,
				Force:      runForce,
			})
			if err != nil {
				return err
			}
			return finishSubmission(cmd.Context(), c, sub)
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Existing workflow to upload into")
	return cmd
}

func newRunExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <workflow-id>",
		Short: "Extract audio from the uploaded video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sub, err := c.ExtractAudio(cmd.Context(), client.ExtractRequest{
				WorkflowID: args[0],
				Force:      runForce,
			})
			if err != nil {
				return err
			}
			return finishSubmission(cmd.Context(), c, sub)
		},
	}
}

func newRunTranscribeCommand() *cobra.Command {
	var quality, language string
	var useAzure bool
	cmd := &cobra.Command{
		Use:   "transcribe <workflow-id>",
		Short: "Transcribe the extracted audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sub, err := c.TranscribeAudio(cmd.Context(), client.TranscribeRequest{
				WorkflowID: args[0],
				Quality:    quality,
				Language:   language,
				UseAzure:   useAzure,
				Force:      runForce,
			})
			if err != nil {
				return err
			}
			return finishSubmission(cmd.Context(), c, sub)
		},
	}
	cmd.Flags().StringVar(&quality, "quality", "", "Quality: fast, balanced, accurate, best")
	cmd.Flags().StringVar(&language, "language", "", "BCP-47 language hint, e.g. en or de-DE")
	cmd.Flags().BoolVar(&useAzure, "use-azure", false, "Use the cloud recognizer as primary")
	return cmd
}

func newRunEnhanceCommand() *cobra.Command {
	var rawText string
	cmd := &cobra.Command{
		Use:   "enhance <workflow-id>",
		Short: "Enhance the transcription with the language model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			sub, err := c.EnhanceTranscription(cmd.Context(), client.EnhanceRequest{
				WorkflowID: args[0],
				RawText:    rawText,
				Force:      runForce,
			})
			if err != nil {
				return err
			}
			return finishSubmission(cmd.Context(), c, sub)
		},
	}
	cmd.Flags().StringVar(&rawText, "text", "", "Text to enhance instead of the workflow's transcription")
	return cmd
}

// finishSubmission either prints the queued job or, with --wait, polls
// it to a terminal state and prints the final record.
func finishSubmission(ctx context.Context, c *client.Client, sub *client.Submission) error {
	if !runWait {
		return printJSON(sub)
	}
	fmt.Printf("job %s queued, waiting...\n", sub.JobID)
	j, err := c.WaitForJob(ctx, sub.JobID, time.Second)
	if err != nil {
		return err
	}
	if err := printJSON(j); err != nil {
		return err
	}
	if j.Error != nil {
		return fmt.Errorf("job %s failed: %s", j.ID, j.Error.Message)
	}
	return nil
}
