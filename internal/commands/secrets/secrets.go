// Copyright 2025 Tom Barlow
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

// Package secrets implements the secrets command, which stores header and
// environment secrets in the system keychain for keyring: references.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/toolhub/internal/secrets"
)

// NewCommand creates the secrets command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets referenced from server headers",
		Long: `Manage secrets in the system keychain.

Server headers and environment values in the config file may reference a
stored secret as keyring:<name>. The reference is resolved when the server
is connected, so the secret never appears in the config file.

Commands:
  set       Store a secret
  get       Show a stored secret (masked)
  delete    Remove a secret

Examples:
  toolhub secrets set github-token
  echo "ghp_..." | toolhub secrets set github-token
  toolhub secrets get github-token
  toolhub secrets delete github-token --force`,
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())
	return cmd
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret",
		Long: `Store a secret in the system keychain.

The value is read from standard input when it is piped, otherwise it is
prompted for with hidden input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), secrets.NewKeychainBackend(), args[0])
		},
	}
}

func newGetCommand() *cobra.Command {
	var unmask bool
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), cmd.OutOrStdout(), secrets.NewKeychainBackend(), args[0], unmask)
		},
	}
	cmd.Flags().BoolVar(&unmask, "unmask", false, "Show the full value")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret",
		Long:  `Remove a secret from the system keychain. Asks for confirmation unless --force is set.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), secrets.NewKeychainBackend(), args[0], force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}

// store is the subset of the keychain backend the commands use.
type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

func runSet(ctx context.Context, in io.Reader, out io.Writer, s store, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	value, err := readValue(in, out)
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	if value == "" {
		return errors.New("secret value cannot be empty")
	}

	if err := s.Set(ctx, name, value); err != nil {
		if errors.Is(err, secrets.ErrBackendUnavailable) {
			return fmt.Errorf("%w\n\nUse an environment reference instead: ${%s}", err, envName(name))
		}
		return fmt.Errorf("failed to store secret: %w", err)
	}

	fmt.Fprintf(out, "Secret stored. Reference it as %s%s\n", secrets.KeyringPrefix, name)
	return nil
}

func runGet(ctx context.Context, out io.Writer, s store, name string, unmask bool) error {
	value, err := s.Get(ctx, name)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return fmt.Errorf("secret not found: %q\n\nSet it with: toolhub secrets set %s", name, name)
		}
		return fmt.Errorf("failed to get secret: %w", err)
	}

	if unmask {
		fmt.Fprintln(out, value)
		return nil
	}
	fmt.Fprintf(out, "%s (use --unmask to show full value)\n", mask(value))
	return nil
}

func runDelete(ctx context.Context, in io.Reader, out io.Writer, s store, name string, force bool) error {
	if !force {
		fmt.Fprintf(out, "Delete secret %q? [y/N]: ", name)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Deletion canceled")
			return nil
		}
	}

	if err := s.Delete(ctx, name); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return fmt.Errorf("secret not found: %q", name)
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	fmt.Fprintf(out, "Secret %q deleted\n", name)
	return nil
}

// readValue reads a piped value, or prompts with hidden input on a terminal.
func readValue(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Enter secret value (hidden): ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func mask(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("secret name cannot be empty")
	case strings.ContainsAny(name, " \t\n"):
		return errors.New("secret name cannot contain whitespace")
	case strings.HasPrefix(name, secrets.KeyringPrefix):
		return fmt.Errorf("secret name should not include the %q prefix", secrets.KeyringPrefix)
	}
	return nil
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name))
}
