package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"aigateway/internal/admin"
	"aigateway/internal/version"
)

const requestTimeout = 30 * time.Second

// cli holds the state shared by every subcommand.
type cli struct {
	url       string
	masterKey string
	principal string
	format    string
}

func (c *cli) client() *admin.Client {
	return admin.NewClient(c.url, admin.WithMasterKey(c.masterKey), admin.WithPrincipal(c.principal))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "aigatewayctl",
		Short: "Manage credentials and endpoints of a running aigateway",
		Long: `aigatewayctl talks to the management surface of an aigateway server.

Examples:
  # Store a credential, reading the secret from the environment
  aigatewayctl credentials put --provider openai --secret-env OPENAI_API_KEY

  # Route the endpoint "my-chat" to gpt-4o-mini with that credential
  aigatewayctl endpoints create my-chat --provider openai --model gpt-4o-mini --credential <id>

  # Inspect the current routing snapshot
  aigatewayctl snapshot
`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.url, "url", envOr("AIGATEWAY_URL", "http://localhost:8000"), "Gateway base URL (env AIGATEWAY_URL)")
	root.PersistentFlags().StringVar(&c.masterKey, "master-key", os.Getenv("AIGATEWAY_MASTER_KEY"), "Gateway master key (env AIGATEWAY_MASTER_KEY)")
	root.PersistentFlags().StringVar(&c.principal, "principal", os.Getenv("AIGATEWAY_PRINCIPAL"), "Principal sent in X-Gateway-Principal (env AIGATEWAY_PRINCIPAL)")
	root.PersistentFlags().StringVarP(&c.format, "output", "o", "table", "Output format (table, json, yaml)")

	root.AddCommand(
		newCredentialsCmd(c),
		newEndpointsCmd(c),
		newSnapshotCmd(c),
		newUsageCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println(version.Info())
			},
		},
	)
	return root
}
