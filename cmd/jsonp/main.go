package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsonp "github.com/glimte/jsonp-bridge"
	"github.com/glimte/jsonp-bridge/bridge"
	"github.com/glimte/jsonp-bridge/health"
	"github.com/glimte/jsonp-bridge/internal/config"
	"github.com/glimte/jsonp-bridge/internal/metrics"
	"github.com/glimte/jsonp-bridge/internal/rabbitmq"
	"github.com/glimte/jsonp-bridge/internal/reliability"
	"github.com/glimte/jsonp-bridge/relay"
	"github.com/glimte/jsonp-bridge/scriptloader"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "jsonp",
		Short: "Perform JSONP requests from the command line",
		Long: `jsonp loads JSONP endpoints in an embedded script runtime and prints the payload they deliver.
It can also serve fetch requests arriving over RabbitMQ.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (default ~/.config/jsonp/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newFetchCmd(flags), newRelayCmd(flags))
	return rootCmd
}

func newFetchCmd(flags *globalFlags) *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a JSONP endpoint and print its payload",
		Long: `Fetch loads the URL as a script and prints the JSON payload passed to its callback.
The URL must contain the =JSONP_CALLBACK placeholder, e.g.
  jsonp fetch 'https://api.example/data?callback=JSONP_CALLBACK'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, err := client.Get(ctx, args[0], nil)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(resp.Body)
		},
	}
	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "Indent the JSON output")
	return cmd
}

func newRelayCmd(flags *globalFlags) *cobra.Command {
	var (
		amqpURL     string
		queue       string
		concurrency int
		healthAddr  string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve JSONP fetch requests from a RabbitMQ queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Relay.AMQPURL = amqpURL
			}
			if cmd.Flags().Changed("queue") {
				cfg.Relay.Queue = queue
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Relay.Concurrency = concurrency
			}

			collector := metrics.NewCollector()
			breaker := reliability.NewCircuitBreaker(
				reliability.WithName("jsonp"),
				reliability.WithBreakerLogger(logger),
			)
			client, err := newClient(cfg, logger,
				jsonp.WithMetrics(collector),
				jsonp.WithCircuitBreaker(breaker),
			)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn := rabbitmq.NewConnectionManager(cfg.Relay.AMQPURL, rabbitmq.WithLogger(logger))
			if err := conn.Connect(ctx); err != nil {
				return err
			}
			defer conn.Close()

			if healthAddr != "" {
				registry := health.NewRegistry()
				registry.SetMetadata("version", version)
				registry.SetMetadata("queue", cfg.Relay.Queue)
				registry.Register(health.NewBrokerChecker(conn))
				registry.Register(health.NewBridgeChecker(client.Bridge(), 4*cfg.Relay.Concurrency))
				registry.Register(health.NewCircuitBreakerChecker("jsonp", breaker))

				shutdown := serveHealth(ctx, healthAddr, registry, logger)
				defer shutdown()
			}

			open := func() (relay.Channel, error) {
				return conn.Channel()
			}
			err = relay.Serve(ctx, open, client.Handler(),
				relay.WithQueue(cfg.Relay.Queue),
				relay.WithConcurrency(cfg.Relay.Concurrency),
				relay.WithLogger(logger),
			)

			snap := collector.Snapshot()
			logger.Info("relay finished",
				"requests", snap.Requests,
				"errors", snap.Errors,
			)
			return err
		},
	}
	cmd.Flags().StringVarP(&amqpURL, "url", "u", "", "RabbitMQ connection URL (overrides config)")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Request queue (overrides config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent exchanges (overrides config)")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Serve health endpoints on this address, e.g. :8081")
	return cmd
}

// serveHealth starts the health endpoints in the background; the returned
// function stops the server
func serveHealth(ctx context.Context, addr string, registry *health.Registry, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           health.NewMux(registry, 5*time.Second),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving health endpoints", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func setup(flags *globalFlags, stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	level := cfg.Log.Level
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func newClient(cfg config.Config, logger *slog.Logger, extra ...jsonp.ClientOption) (*jsonp.Client, error) {
	fetcher := scriptloader.NewHTTPFetcher(
		scriptloader.WithUserAgent(cfg.UserAgent),
		scriptloader.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	opts := []jsonp.ClientOption{
		jsonp.WithLogger(logger),
		jsonp.WithFetcher(fetcher),
		jsonp.WithCallbackPrefix(cfg.CallbackPrefix),
		jsonp.WithEvalTimeout(cfg.EvalTimeout),
		jsonp.WithTimeout(cfg.Timeout),
		jsonp.WithAllowedHosts(cfg.AllowedHosts...),
		jsonp.WithBridgeOptions(bridge.WithStrictPlaceholder(cfg.StrictPlaceholder)),
	}
	if cfg.Retry.MaxAttempts > 0 {
		opts = append(opts, jsonp.WithRetryPolicy(reliability.NewExponentialBackoff(
			cfg.Retry.InitialInterval, 8*cfg.Retry.InitialInterval, 2.0, cfg.Retry.MaxAttempts)))
	}

	return jsonp.NewClient(append(opts, extra...)...)
}
