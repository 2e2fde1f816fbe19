// The gateway serves the three inbound protocol surfaces (HTTP, XML-RPC
// style, binary TCP) and forwards requests to the backend workers over the
// broker, waiting for the correlated reply.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderlink/orderlink/internal/adapters"
	"github.com/orderlink/orderlink/internal/broker"
	"github.com/orderlink/orderlink/internal/broker/transport"
	_ "github.com/orderlink/orderlink/internal/broker/transport/channel"
	"github.com/orderlink/orderlink/internal/broker/transport/nats"
	"github.com/orderlink/orderlink/internal/broker/transport/rabbitmq"
	"github.com/orderlink/orderlink/internal/config"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	log := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if err := run(*configPath, log); err != nil {
		log.Error("gateway exited", err, nil)
		os.Exit(1)
	}
}

func run(configPath string, log logging.ServiceLogger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info("starting gateway", logging.LogFields{"config": cfg.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbitmq.Register()
	nats.Register()
	tp, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(log))
	if err != nil {
		return err
	}

	client, err := broker.NewClient(ctx, tp.Publisher, tp.Subscriber, log)
	if err != nil {
		return err
	}
	defer client.Close()

	httpAdapter := adapters.NewHTTPAdapter(client, log, cfg.RequestTimeout)
	rpcAdapter := adapters.NewRPCAdapter(client, log, cfg.RequestTimeout)
	tcpAdapter := adapters.NewTCPAdapter(client, log, cfg.RequestTimeout, cfg.TCPReadTimeout)

	mux := http.NewServeMux()
	mux.Handle("/api/", httpAdapter.Router())
	mux.Handle("/rpc", rpcAdapter.Router())
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	listener, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", logging.LogFields{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("tcp listening", logging.LogFields{"addr": cfg.TCPAddr})
		if err := tcpAdapter.Serve(ctx, listener); err != nil {
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
	httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	return tcpAdapter.Close()
}
