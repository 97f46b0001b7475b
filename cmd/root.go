// Package cmd implements the price-oracle CLI entrypoint: configuration
// loading, adapter and Engine construction, signal trapping, and joining
// the monitoring loop with the HTTP/WS server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"price-oracle/config"
	"price-oracle/oracle"
	"price-oracle/oracle/history"
	"price-oracle/oracle/provider"
	"price-oracle/oracle/types"
	v1 "price-oracle/router/v1"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	logFormatJSON = "json"
	logFormatText = "text"

	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"

	shutdownTimeout = 15 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "price-oracle [config-file]",
	Args:  cobra.ExactArgs(1),
	Short: "price-oracle aggregates, validates and serves a manipulation-resistant consensus price feed",
	Long: `A side-car process that aggregates quotes from multiple upstream
price sources, reconciles them into a confidence-weighted consensus price,
scores the result for manipulation, and serves the validated price over
HTTP and WebSocket while persisting it to a local history store.`,
	RunE: rootCmdHandler,
}

func init() {
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.InfoLevel.String(), "logging level")
	rootCmd.PersistentFlags().String(flagLogFormat, logFormatText, "logging format; must be either json or text")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main and only needs to run once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func rootCmdHandler(cmd *cobra.Command, args []string) error {
	logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return err
	}
	logLvl, err := zerolog.ParseLevel(logLvlStr)
	if err != nil {
		return err
	}
	logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
	if err != nil {
		return err
	}

	var logWriter io.Writer
	switch strings.ToLower(logFormatStr) {
	case logFormatJSON:
		logWriter = os.Stderr
	case logFormatText:
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}
	default:
		return fmt.Errorf("invalid logging format: %s", logFormatStr)
	}

	zerolog.TimeFieldFormat = time.StampMilli
	logger := zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger()

	cfg, err := config.ParseConfig(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	g, ctx := errgroup.WithContext(ctx)

	// listen for and trap any OS signal to gracefully shutdown and exit
	trapSignal(cancel, logger)

	store, err := history.NewSQLiteStore(cfg.HistoryDB, logger)
	if err != nil {
		return fmt.Errorf("failed to init history store: %w", err)
	}
	defer store.Close()

	symbolSet := map[types.Symbol]struct{}{}
	for _, sc := range cfg.Symbols {
		symbolSet[types.Symbol(sc.Symbol)] = struct{}{}
	}
	symbols := make([]types.Symbol, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}

	adapters := make([]provider.Adapter, 0, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapter, err := newAdapter(a.Name, a.ToEndpoint(), logger)
		if err != nil {
			return err
		}
		adapters = append(adapters, adapter)
	}

	engine := oracle.New(adapters, store, oracle.Config{
		PollInterval:   cfg.PollInterval(),
		AdapterTimeout: oracle.DefaultAdapterTimeout,
		CacheTTL:       cfg.CacheTTL(),
	}, logger)
	defer engine.Close()

	g.Go(func() error {
		logger.Info().Msg("starting price-oracle monitoring loop...")
		err := engine.StartMonitoring(ctx, symbols)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return startServer(ctx, logger, cfg, engine)
	})

	// Block main process until all spawned goroutines have gracefully exited
	// and the signal has been captured, or one returns an error.
	return g.Wait()
}

func newAdapter(name provider.Name, endpoint provider.Endpoint, logger zerolog.Logger) (provider.Adapter, error) {
	switch name {
	case provider.PythName:
		return provider.NewPythAdapter(endpoint, logger), nil
	case provider.SwitchboardName:
		return provider.NewSwitchboardAdapter(endpoint, logger), nil
	case provider.MockName:
		return provider.NewMockAdapter(string(name)), nil
	default:
		return nil, fmt.Errorf("unsupported adapter: %s", name)
	}
}

// trapSignal listens for SIGINT/SIGTERM and cancels the root context,
// letting every joined goroutine wind down gracefully.
func trapSignal(cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh, syscall.SIGTERM)
	signal.Notify(sigCh, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("caught signal; shutting down...")
		cancel()
	}()
}

func startServer(ctx context.Context, logger zerolog.Logger, cfg config.Config, engine *oracle.Engine) error {
	rtr := mux.NewRouter()
	v1Router := v1.New(logger, engine)
	v1Router.RegisterRoutes(rtr, v1.APIPathPrefix)

	srvErrCh := make(chan error, 1)
	srv := &http.Server{
		Handler:           rtr,
		Addr:              cfg.Server.ListenAddr,
		WriteTimeout:      shutdownTimeout,
		ReadTimeout:       shutdownTimeout,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("starting price-oracle server...")
		srvErrCh <- srv.ListenAndServe()
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("shutting down price-oracle server...")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("failed to gracefully shutdown price-oracle server")
				return err
			}
			return nil

		case err := <-srvErrCh:
			if err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("failed to start price-oracle server")
				return err
			}
			return nil
		}
	}
}
