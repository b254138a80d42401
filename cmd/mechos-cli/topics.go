package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTopicsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List topics with publisher and subscriber counts",
		Long: `List every (topic, protocol) pair known to the broker. A publisher
only connects to subscribers of the same topic and protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(cmd.Context(), g, cmd.OutOrStdout())
		},
	}
}

func runTopics(ctx context.Context, g *globals, out io.Writer) error {
	client, err := g.admin()
	if err != nil {
		return err
	}

	topics, err := client.ListTopics(ctx)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		fmt.Fprintln(out, "No topics registered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tPROTOCOL\tPUBLISHERS\tSUBSCRIBERS")
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", t.Topic, t.Protocol, t.Publishers, t.Subscribers)
	}
	return w.Flush()
}
