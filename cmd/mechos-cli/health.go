package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check broker health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), g, cmd.OutOrStdout())
		},
	}
}

func runHealth(ctx context.Context, g *globals, out io.Writer) error {
	client, err := g.admin()
	if err != nil {
		return err
	}

	health, err := client.GetHealth(ctx)
	if health == nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Healthy {
		fmt.Fprintln(out, "Broker is healthy")
	} else {
		fmt.Fprintln(out, "Broker is not healthy")
	}
	fmt.Fprintf(out, "Nodes: %d\n", health.Nodes)
	fmt.Fprintf(out, "Publishers: %d\n", health.Publishers)
	fmt.Fprintf(out, "Subscribers: %d\n", health.Subscribers)
	fmt.Fprintf(out, "Uptime: %s\n", health.Uptime.Round(time.Second))
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	return err
}
