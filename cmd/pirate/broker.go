package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"pirate-rpc/broker"
	"pirate-rpc/registry"
)

var (
	brokerListen    string
	brokerAdvertise string
	brokerWorkers   int
	brokerPing      string
	brokerMetrics   string
	brokerTTL       int64
	brokerRegister  bool
)

var brokerCmd = &cobra.Command{
	Use:   "broker SERVICE",
	Short: "Run an echo broker for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := args[0]
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := []broker.Option{broker.WithLogger(slog.Default())}
		if brokerRegister {
			listing, err := advertisedListing()
			if err != nil {
				return err
			}
			dir, closeDir, err := openDirectory(ctx)
			if err != nil {
				return err
			}
			defer closeDir()
			opts = append(opts, broker.WithRegistrar(dir, service, listing, brokerTTL))
		}
		b := broker.New(broker.Echo, brokerWorkers, opts...)

		ln, err := net.Listen("tcp", brokerListen)
		if err != nil {
			return err
		}
		errs := make(chan error, 3)
		go func() { errs <- b.Serve(ln) }()

		if brokerPing != "" {
			pingLn, err := net.Listen("tcp", brokerPing)
			if err != nil {
				b.Shutdown(time.Second)
				return err
			}
			go func() { errs <- b.ServePing(pingLn) }()
		}

		var metricsSrv *http.Server
		if brokerMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsSrv = &http.Server{Addr: brokerMetrics, Handler: mux}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
			}()
		}

		var runErr error
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case runErr = <-errs:
		}

		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			metricsSrv.Shutdown(shutdownCtx)
			cancel()
		}
		return errors.Join(runErr, b.Shutdown(10*time.Second))
	},
}

// advertisedListing is the listing registered in the directory: --advertise, or the
// listen address if it names a host.
func advertisedListing() (registry.Listing, error) {
	addr := brokerAdvertise
	if addr == "" {
		addr = brokerListen
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return registry.Listing{}, fmt.Errorf("invalid advertise address %q: %w", addr, err)
	}
	if host == "" {
		return registry.Listing{}, fmt.Errorf("advertise address %q has no host, set --advertise", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return registry.Listing{}, fmt.Errorf("invalid advertise port %q", portStr)
	}
	return registry.Listing{Address: host, Port: port}, nil
}

func init() {
	brokerCmd.Flags().StringVar(&brokerListen, "listen", "127.0.0.1:9399", "request listen address")
	brokerCmd.Flags().StringVar(&brokerAdvertise, "advertise", "", "host:port registered in the directory (default --listen)")
	brokerCmd.Flags().IntVar(&brokerWorkers, "workers", 4, "concurrent requests")
	brokerCmd.Flags().StringVar(&brokerPing, "ping-listen", "", "liveness probe listen address, e.g. :9400 (matches PB_RPC_PING_PORT)")
	brokerCmd.Flags().StringVar(&brokerMetrics, "metrics-listen", "", "prometheus /metrics listen address, e.g. :9090")
	brokerCmd.Flags().Int64Var(&brokerTTL, "ttl", 10, "directory registration TTL in seconds, 0 for none")
	brokerCmd.Flags().BoolVar(&brokerRegister, "register", false, "register the broker in the directory")
}
