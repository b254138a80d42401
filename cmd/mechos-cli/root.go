package main

import (
	"time"

	"github.com/FelipeJared/mechOS/internal/discovery"
	"github.com/FelipeJared/mechOS/pkg/adminclient"
	"github.com/spf13/cobra"
)

// globals holds the persistent flags shared by every command
type globals struct {
	adminURL   string
	brokerAddr string
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "mechos-cli",
		Short: "mechOS broker command line interface",
		Long: `mechos-cli queries the broker admin API for registered nodes,
topics and health, and reads or writes the parameter store over the
broker control endpoint.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.adminURL, "admin", "http://127.0.0.1:5960", "Broker admin API URL")
	rootCmd.PersistentFlags().StringVar(&g.brokerAddr, "broker", discovery.BrokerAddress(), "Broker control address, $MECHOS_BROKER overrides the default")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newNodesCommand(g))
	rootCmd.AddCommand(newTopicsCommand(g))
	rootCmd.AddCommand(newHealthCommand(g))
	rootCmd.AddCommand(newParamCommand(g))

	return rootCmd
}

func (g *globals) admin() (*adminclient.Client, error) {
	return adminclient.NewClient(adminclient.Config{
		ServerURL: g.adminURL,
		Timeout:   g.timeout,
	})
}
