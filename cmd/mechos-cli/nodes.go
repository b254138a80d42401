package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/FelipeJared/mechOS/pkg/adminclient"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"github.com/spf13/cobra"
)

func newNodesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect registered nodes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNodesList(cmd.Context(), g, cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show one node with its publishers and subscribers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNodesShow(cmd.Context(), g, cmd.OutOrStdout(), args[0])
		},
	})

	return cmd
}

func runNodesList(ctx context.Context, g *globals, out io.Writer) error {
	client, err := g.admin()
	if err != nil {
		return err
	}

	nodes, err := client.ListNodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No nodes registered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPID\tCONTROL\tPUBLISHERS\tSUBSCRIBERS")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\n", n.Name, n.PID, n.Control, len(n.Publishers), len(n.Subscribers))
	}
	return w.Flush()
}

func runNodesShow(ctx context.Context, g *globals, out io.Writer, name string) error {
	client, err := g.admin()
	if err != nil {
		return err
	}

	node, err := client.GetNode(ctx, name)
	if errors.Is(err, adminclient.ErrNotFound) {
		return fmt.Errorf("node %q is not registered", name)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Name:       %s\n", node.Name)
	fmt.Fprintf(out, "PID:        %d\n", node.PID)
	fmt.Fprintf(out, "Control:    %s\n", node.Control)
	if !node.RegisteredAt.IsZero() {
		fmt.Fprintf(out, "Registered: %s\n", node.RegisteredAt.Format("2006-01-02 15:04:05"))
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nROLE\tID\tTOPIC\tPROTOCOL\tENDPOINT")
	writeEntities(w, "publisher", node.Publishers)
	writeEntities(w, "subscriber", node.Subscribers)
	return w.Flush()
}

func writeEntities(w io.Writer, role string, entities []mechos.EntityInfo) {
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", role, e.ID, e.Topic, e.Protocol, e.Endpoint)
	}
}
