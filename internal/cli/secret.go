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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/secrets"
)

func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage daemon credentials",
		Long: `Manage the credentials the daemon resolves at startup. Secrets are
looked up through a chain: environment variables, the OS keychain, and
an encrypted file under the data directory.

Known keys:
  azure_speech_key   Azure Speech subscription key
  azure_openai_key   Azure OpenAI API key
  jwt_secret         HS256 secret for API tokens`,
	}
	cmd.AddCommand(newSecretSetCommand())
	cmd.AddCommand(newSecretGetCommand())
	cmd.AddCommand(newSecretDeleteCommand())
	cmd.AddCommand(newSecretBackendsCommand())
	return cmd
}

// secretResolver assembles the same chain the daemon uses.
func secretResolver() (*secrets.Resolver, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	backends := []secrets.Backend{secrets.NewEnvBackend()}
	if kc := secrets.NewKeychainBackend(); kc.Available() {
		backends = append(backends, kc)
	}
	fb, err := secrets.NewFileBackend(filepath.Join(cfg.Storage.DataDir, "secrets.enc"))
	if err == nil {
		backends = append(backends, fb)
	}
	return secrets.NewResolver(backends...), nil
}

func newSecretSetCommand() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret (value read from stdin)",
		Long: `Store a secret. The value is read from stdin so it never appears in
shell history or the process list:

  echo -n "$KEY" | voxflow secret set azure_openai_key`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			value, err := reader.ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("reading secret from stdin: %w", err)
			}
			value = strings.TrimRight(value, "\r\n")
			if value == "" {
				return fmt.Errorf("empty secret value")
			}

			r, err := secretResolver()
			if err != nil {
				return err
			}
			if err := r.Set(cmd.Context(), args[0], value, backend); err != nil {
				return err
			}
			fmt.Printf("secret %s stored\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "Target backend (keychain, file); default is the highest-priority writable one")
	return cmd
}

func newSecretGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print whether a secret resolves, and from where",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := secretResolver()
			if err != nil {
				return err
			}
			if _, ok := r.Lookup(cmd.Context(), args[0]); !ok {
				return fmt.Errorf("secret %s not found", args[0])
			}
			fmt.Printf("secret %s is set\n", args[0])
			return nil
		},
	}
}

func newSecretDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a secret from every writable backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := secretResolver()
			if err != nil {
				return err
			}
			if err := r.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("secret %s removed\n", args[0])
			return nil
		},
	}
}

func newSecretBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List available secret backends in resolution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := secretResolver()
			if err != nil {
				return err
			}
			for _, name := range r.Backends() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
