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
	"os"

	"github.com/spf13/cobra"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}
	cmd.AddCommand(newWorkflowCreateCommand())
	cmd.AddCommand(newWorkflowGetCommand())
	cmd.AddCommand(newWorkflowJobsCommand())
	cmd.AddCommand(newWorkflowDeleteCommand())
	return cmd
}

func newWorkflowCreateCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			id, err := c.CreateWorkflow(cmd.Context(), input, nil)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Note recording what this workflow processes")
	return cmd
}

func newWorkflowGetCommand() *cobra.Command {
	var selectExpr string
	cmd := &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Show a workflow's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if selectExpr != "" {
				raw, err := c.SelectWorkflow(cmd.Context(), args[0], selectExpr)
				if err != nil {
					return err
				}
				os.Stdout.Write(raw)
				fmt.Println()
				return nil
			}
			w, err := c.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(w)
		},
	}
	cmd.Flags().StringVar(&selectExpr, "select", "", "jq expression applied to the state")
	return cmd
}

func newWorkflowJobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <workflow-id>",
		Short: "List a workflow's jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			jobs, err := c.ListJobs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}
}

func newWorkflowDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("workflow %s deleted\n", args[0])
			return nil
		},
	}
}
