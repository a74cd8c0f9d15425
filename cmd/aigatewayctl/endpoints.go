package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"aigateway/internal/admin"
	"aigateway/internal/core"
)

// endpointFlags are shared by create and update.
type endpointFlags struct {
	provider    string
	model       string
	credential  string
	options     map[string]string
	optionsJSON string
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "Provider kind")
	cmd.Flags().StringVar(&f.model, "model", "", "Provider model identifier")
	cmd.Flags().StringVar(&f.credential, "credential", "", "Credential ID")
	cmd.Flags().StringToStringVar(&f.options, "option", nil, "Endpoint option as key=value; values are parsed as JSON when possible")
	cmd.Flags().StringVar(&f.optionsJSON, "options-json", "", `Endpoint options as a JSON object, e.g. '{"strict":true}'`)
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("credential")
}

func (f *endpointFlags) request(name string) (admin.EndpointRequest, error) {
	opts, err := parseOptions(f.options, f.optionsJSON)
	if err != nil {
		return admin.EndpointRequest{}, err
	}
	return admin.EndpointRequest{
		Name:         name,
		Provider:     core.ProviderKind(f.provider),
		Model:        f.model,
		CredentialID: f.credential,
		Options:      opts,
	}, nil
}

// parseOptions merges --options-json with --option pairs; pairs win.
func parseOptions(pairs map[string]string, raw string) (core.Options, error) {
	opts := core.Options{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return nil, fmt.Errorf("invalid --options-json: %w", err)
		}
	}
	for k, v := range pairs {
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		opts[k] = parsed
	}
	if len(opts) == 0 {
		return nil, nil
	}
	return opts, nil
}

func endpointTable(eps ...core.Endpoint) table {
	t := table{headers: []string{"NAME", "PROVIDER", "MODEL", "CREDENTIAL", "OPTIONS", "UPDATED"}}
	for _, ep := range eps {
		opts := "-"
		if len(ep.Options) > 0 {
			b, _ := json.Marshal(ep.Options)
			opts = string(b)
		}
		t.rows = append(t.rows, []string{
			ep.Name, string(ep.ProviderKind), ep.ModelID, ep.CredentialRef, opts,
			ep.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	return t
}

func newEndpointsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "endpoints",
		Aliases: []string{"endpoint", "ep"},
		Short:   "Manage routed endpoints",
	}

	var create endpointFlags
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := create.request(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			ep, err := c.client().CreateEndpoint(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create endpoint: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, ep, endpointTable(ep))
		},
	}
	create.register(createCmd)

	var update endpointFlags
	updateCmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Replace an endpoint's definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := update.request(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			ep, err := c.client().UpdateEndpoint(ctx, args[0], req)
			if err != nil {
				return fmt.Errorf("failed to update endpoint: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, ep, endpointTable(ep))
		},
	}
	update.register(updateCmd)

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			ep, err := c.client().GetEndpoint(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get endpoint: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, ep, endpointTable(ep))
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			eps, err := c.client().ListEndpoints(ctx)
			if err != nil {
				return fmt.Errorf("failed to list endpoints: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, eps, endpointTable(eps...))
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.client().DeleteEndpoint(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete endpoint: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "endpoint %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(createCmd, updateCmd, getCmd, listCmd, deleteCmd)
	return cmd
}
