// The worker consumes canonical envelopes from one backend queue and
// publishes replies. The role flag or config selects which backend this
// process serves: warehouse, routing, or clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderlink/orderlink/internal/backend"
	"github.com/orderlink/orderlink/internal/broker/transport"
	_ "github.com/orderlink/orderlink/internal/broker/transport/channel"
	"github.com/orderlink/orderlink/internal/broker/transport/nats"
	"github.com/orderlink/orderlink/internal/broker/transport/rabbitmq"
	"github.com/orderlink/orderlink/internal/config"
	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/metrics"
	"github.com/orderlink/orderlink/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	role := flag.String("role", "", "worker role: warehouse, routing or clients (overrides config)")
	flag.Parse()

	log := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if err := run(*configPath, *role, log); err != nil {
		log.Error("worker exited", err, nil)
		os.Exit(1)
	}
}

func run(configPath, role string, log logging.ServiceLogger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if role == "" {
		role = cfg.WorkerRole
	}

	queue, handlers, err := buildRole(role)
	if err != nil {
		return err
	}
	log.Info("starting worker", logging.LogFields{"role": role, "queue": queue})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbitmq.Register()
	nats.Register()
	tp, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(log))
	if err != nil {
		return err
	}

	w, err := worker.New(role, queue, handlers, tp, log, worker.Options{
		RetryMaxRetries: cfg.RetryMaxRetries,
		RetryInterval:   cfg.RetryInterval,
		MetricsEnabled:  cfg.MetricsEnabled,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsEnabled {
		go serveMetrics(cfg.MetricsPort, log)
	}

	return w.Run(ctx)
}

func buildRole(role string) (string, map[string]worker.HandlerFunc, error) {
	switch role {
	case "warehouse":
		wh := backend.NewWarehouse(backend.NewMemoryInventory(backend.DefaultStock()))
		return envelope.QueueWarehouse, worker.WarehouseHandlers(wh), nil
	case "routing":
		lg := backend.NewLogistics(backend.NewMemoryRoutes())
		return envelope.QueueRouting, worker.RoutingHandlers(lg), nil
	case "clients":
		cl := backend.NewClients(backend.NewMemoryClients())
		legacy := backend.NewLegacy(backend.NewMemoryLegacy())
		return envelope.QueueClients, worker.ClientsHandlers(cl, legacy), nil
	default:
		return "", nil, fmt.Errorf("unknown worker role %q", role)
	}
}

func serveMetrics(port int, log logging.ServiceLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info("metrics listening", logging.LogFields{"addr": addr})
	if err := (&http.Server{Addr: addr, Handler: mux}).ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", err, nil)
	}
}
