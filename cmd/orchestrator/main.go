// The orchestrator exposes the order API and drives the three-step saga
// against the gateway: warehouse over HTTP, logistics over the XML surface,
// the legacy system over the binary TCP protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderlink/orderlink/internal/adapters"
	"github.com/orderlink/orderlink/internal/broker/transport"
	_ "github.com/orderlink/orderlink/internal/broker/transport/channel"
	"github.com/orderlink/orderlink/internal/broker/transport/nats"
	"github.com/orderlink/orderlink/internal/broker/transport/rabbitmq"
	"github.com/orderlink/orderlink/internal/config"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/metrics"
	"github.com/orderlink/orderlink/internal/notify"
	"github.com/orderlink/orderlink/internal/orchestrator"
	"github.com/orderlink/orderlink/internal/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	log := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if err := run(*configPath, log); err != nil {
		log.Error("orchestrator exited", err, nil)
		os.Exit(1)
	}
}

func run(configPath string, log logging.ServiceLogger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info("starting orchestrator", logging.LogFields{"config": cfg.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	rabbitmq.Register()
	nats.Register()
	tp, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(log))
	if err != nil {
		return err
	}
	sink := notify.NewSink(tp.Publisher, log)

	saga := orchestrator.NewSaga(
		store,
		adapters.NewHTTPClient(cfg.GatewayBaseURL, cfg.RequestTimeout),
		adapters.NewRPCClient(cfg.GatewayBaseURL, cfg.RequestTimeout),
		adapters.NewTCPClient(cfg.GatewayTCPAddr, cfg.RequestTimeout),
		resilience.Policy{
			MaxRetries: uint64(cfg.RetryMaxRetries),
			Interval:   cfg.RetryInterval,
			Logger:     log,
		},
		sink,
		log,
	)

	api := orchestrator.NewAPI(saga, store, log)
	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	server := &http.Server{Addr: cfg.OrchestratorAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", logging.LogFields{"addr": cfg.OrchestratorAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", nil)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg *config.Config, log logging.ServiceLogger) (orchestrator.OrderStore, func(), error) {
	if cfg.PostgresURL == "" {
		log.Info("using in-memory order store", nil)
		return orchestrator.NewMemoryStore(), func() {}, nil
	}
	store, err := orchestrator.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
