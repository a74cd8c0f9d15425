package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Show the version and digest of the routing configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			snap, err := c.client().Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, snap, table{
				headers: []string{"VERSION", "DIGEST", "ENDPOINTS", "CREDENTIALS", "PERSISTENT"},
				rows: [][]string{{
					strconv.FormatUint(snap.Version, 10), snap.Digest,
					strconv.Itoa(snap.Endpoints), strconv.Itoa(snap.Credentials),
					strconv.FormatBool(snap.Persistent),
				}},
			})
		},
	}
}

func newUsageCmd(c *cli) *cobra.Command {
	var (
		days       int
		start, end string
		endpoint   string
		provider   string
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show aggregated token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if days > 0 {
				q.Set("days", strconv.Itoa(days))
			}
			for k, v := range map[string]string{"start_date": start, "end_date": end, "endpoint": endpoint, "provider": provider} {
				if v != "" {
					q.Set(k, v)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			sum, err := c.client().UsageSummary(ctx, q)
			if err != nil {
				return fmt.Errorf("failed to read usage: %w", err)
			}
			return printResult(cmd.OutOrStdout(), c.format, sum, table{
				headers: []string{"REQUESTS", "FAILED", "INPUT", "OUTPUT", "TOTAL"},
				rows: [][]string{{
					strconv.Itoa(sum.TotalRequests), strconv.Itoa(sum.FailedCalls),
					strconv.FormatInt(sum.TotalInput, 10), strconv.FormatInt(sum.TotalOutput, 10),
					strconv.FormatInt(sum.TotalTokens, 10),
				}},
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Number of days back from today (default 30)")
	cmd.Flags().StringVar(&start, "start-date", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end-date", "", "Last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Only this endpoint")
	cmd.Flags().StringVar(&provider, "provider", "", "Only this provider kind")
	return cmd
}
