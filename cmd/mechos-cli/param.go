package main

import (
	"context"
	"fmt"
	"io"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"
)

func newParamCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "param",
		Short: "Read and write the broker parameter store",
		Long: `Parameters are strings addressed by "/"-delimited paths such as
pid/roll/p. The store is a YAML document on the broker host.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "use <file>",
		Short: "Select the parameter database file on the broker host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withParams(cmd.Context(), g, func(ctx context.Context, c *controlrpc.ParamClient) error {
				if err := c.UseDatabase(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Using parameter database %s\n", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print the value stored at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withParams(cmd.Context(), g, func(ctx context.Context, c *controlrpc.ParamClient) error {
				return runParamGet(ctx, c, cmd.OutOrStdout(), args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Store value at path, creating missing levels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withParams(cmd.Context(), g, func(ctx context.Context, c *controlrpc.ParamClient) error {
				return c.Set(ctx, args[0], args[1])
			})
		},
	})

	return cmd
}

func runParamGet(ctx context.Context, c *controlrpc.ParamClient, out io.Writer, path string) error {
	value, found, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("parameter %q not found", path)
	}
	fmt.Fprintln(out, value)
	return nil
}

// withParams dials the broker control endpoint for the duration of fn
func withParams(ctx context.Context, g *globals, fn func(context.Context, *controlrpc.ParamClient) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := controlrpc.DialParams(g.brokerAddr, controlrpc.Config{CallTimeout: g.timeout})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := fn(ctx, client); err != nil {
		if s, ok := status.FromError(err); ok {
			return fmt.Errorf("%s: %s", s.Code(), s.Message())
		}
		return err
	}
	return nil
}
