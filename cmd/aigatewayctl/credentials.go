package main

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

	"aigateway/internal/core"
)

// secretFlags select where a secret is read from. Secrets are never taken
// from argv, where they would leak into shell history and process listings.
type secretFlags struct {
	env   string
	stdin bool
}

func (f *secretFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.env, "secret-env", "", "Read the secret from this environment variable")
	cmd.Flags().BoolVar(&f.stdin, "secret-stdin", false, "Read the secret from standard input")
	cmd.MarkFlagsMutuallyExclusive("secret-env", "secret-stdin")
	cmd.MarkFlagsOneRequired("secret-env", "secret-stdin")
}

func (f *secretFlags) read(cmd *cobra.Command) (string, error) {
	if f.env != "" {
		v := os.Getenv(f.env)
		if v == "" {
			return "", fmt.Errorf("environment variable %s is empty", f.env)
		}
		return v, nil
	}
	in := cmd.InOrStdin()
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Secret: ")
		b, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", errors.New("no secret on standard input")
	}
	return line, nil
}

func credentialTable(infos ...core.CredentialInfo) table {
	t := table{headers: []string{"ID", "PROVIDER", "METADATA", "CREATED"}}
	for _, c := range infos {
		t.rows = append(t.rows, []string{c.ID, string(c.ProviderKind), formatMap(c.Metadata), c.CreatedAt.Format("2006-01-02 15:04")})
	}
	return t
}

func newCredentialsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"credential", "creds"},
		Short:   "Manage provider credentials",
	}

	var (
		provider string
		metadata map[string]string
		put      secretFlags
	)
	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Store a credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := put.read(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			info, err := c.client().PutCredential(ctx, core.ProviderKind(provider), secret, metadata)
			if err != nil {
				return fmt.Errorf("failed to store credential: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, info, credentialTable(info))
		},
	}
	putCmd.Flags().StringVar(&provider, "provider", "", "Provider kind (openai, anthropic, gemini, bedrock, ...)")
	putCmd.Flags().StringToStringVar(&metadata, "metadata", nil, "Metadata as key=value pairs")
	_ = putCmd.MarkFlagRequired("provider")
	put.register(putCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials (secrets are never shown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			infos, err := c.client().ListCredentials(ctx)
			if err != nil {
				return fmt.Errorf("failed to list credentials: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, infos, credentialTable(infos...))
		},
	}

	var rotate secretFlags
	rotateCmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Replace the secret of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := rotate.read(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			info, err := c.client().RotateCredential(ctx, args[0], secret)
			if err != nil {
				return fmt.Errorf("failed to rotate credential: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, info, credentialTable(info))
		},
	}
	rotate.register(rotateCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential no endpoint references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.client().DeleteCredential(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential %s deleted\n", args[0])
			return nil
		},
	}

	defaultCmd := &cobra.Command{
		Use:   "default <id>",
		Short: "Make a credential the default for its provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			info, err := c.client().SetDefaultCredential(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to set default credential: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, info, credentialTable(info))
		},
	}

	cmd.AddCommand(putCmd, listCmd, rotateCmd, deleteCmd, defaultCmd)
	return cmd
}
