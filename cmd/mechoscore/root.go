package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FelipeJared/mechOS/internal/broker"
	"github.com/FelipeJared/mechOS/internal/config"
	"github.com/FelipeJared/mechOS/internal/httpapi"
	"github.com/FelipeJared/mechOS/internal/logging"
	"github.com/FelipeJared/mechOS/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configFile  string
	listen      string
	adminListen string
	noAdmin     bool
	paramDB     string
	logLevel    string
	logFormat   string
	showVersion bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "mechOS broker daemon",
		Long: `mechoscore is the mechOS broker. Nodes register with it on the
well-known control address; it matches publishers and subscribers by
topic and protocol and tells each side how to connect.

Configuration is read from --config, or from the file named by
MECHOS_CONFIG. Flags override file values.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
				return nil
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "Path to YAML configuration file (default $"+config.EnvFile+")")
	flags.StringVar(&opts.listen, "listen", "", "Control listen address (default 127.0.0.1:5959)")
	flags.StringVar(&opts.adminListen, "admin-listen", "", "Admin API listen address (default 127.0.0.1:5960)")
	flags.BoolVar(&opts.noAdmin, "no-admin", false, "Disable the admin API")
	flags.StringVar(&opts.paramDB, "param-db", "", "Parameter database file selected at startup")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log encoding: console or json")
	flags.BoolVar(&opts.showVersion, "version", false, "Show version and exit")

	return cmd
}

// loadConfig reads the configuration file and applies flags set on cmd
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(config.Path(opts.configFile))
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Broker.ListenAddress = opts.listen
	}
	if flags.Changed("admin-listen") {
		cfg.Admin.ListenAddress = opts.adminListen
	}
	if flags.Changed("no-admin") {
		cfg.Admin.Disabled = opts.noAdmin
	}
	if flags.Changed("param-db") {
		cfg.Broker.ParamDatabase = opts.paramDB
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Encoding = opts.logFormat
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run serves until ctx is done, then unregisters every node and exits
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := broker.NewServer(cfg.Broker,
		broker.WithLogger(logger),
		broker.WithMetrics(metrics.NewBroker(reg)),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	var admin *httpapi.Server
	if !cfg.Admin.Disabled {
		admin, err = httpapi.NewServer(srv.Broker(), reg, cfg.Admin.Config, logger.Named("admin"))
		if err == nil {
			err = admin.Start(ctx)
		}
		if err != nil {
			return multierr.Append(err, shutdown(srv, nil))
		}
	}

	logger.Info("Broker started",
		zap.String("version", appVersion),
		zap.Stringer("control", srv.Addr()),
		zap.Bool("admin", admin != nil),
	)

	<-ctx.Done()
	logger.Info("Shutting down, unregistering all nodes")
	if err := shutdown(srv, admin); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
		return err
	}
	logger.Info("Broker stopped")
	return nil
}

func shutdown(srv *broker.Server, admin *httpapi.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if admin != nil {
		err = multierr.Append(err, admin.Stop(ctx))
	}
	return multierr.Append(err, srv.Stop(ctx))
}
