package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/internal/telemetry"
	"github.com/vango-dev/vango-use/pkg/middleware"
	"github.com/vango-dev/vango-use/pkg/storage/broadcast"
)

const shutdownTimeout = 5 * time.Second

func (a *app) hubCmd() *cobra.Command {
	var (
		addr    string
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the change hub",
		Long: `Run the WebSocket hub that relays change events between processes.

Peers connect to /sync/{scope}. Every change a peer sends is forwarded to
the other peers of the same scope. With --persist the hub also joins the
configured scope itself and writes every change into the configured
backend, so late joiners can read the latest values from it.

Endpoints:
  GET /sync/{scope}   WebSocket relay
  GET /healthz        liveness
  GET /metrics        Prometheus metrics (hub.metrics in storectl.json)

Examples:
  storectl hub
  storectl hub --addr :7070 --persist --backend sqlite`,
		Args: exactArgs(0, "storectl hub --addr :7070"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Hub.Addr
			}
			return a.runHub(cmd.Context(), addr, persist)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from storectl.json)")
	cmd.Flags().BoolVar(&persist, "persist", false, "Mirror relayed changes into the configured backend")
	return cmd
}

func (a *app) runHub(ctx context.Context, addr string, persist bool) error {
	cfg := a.cfg

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	hubOpts := []broadcast.HubOption{
		broadcast.WithLogger(a.logger),
		broadcast.WithPingInterval(cfg.PingInterval()),
		broadcast.WithWriteTimeout(cfg.WriteTimeout()),
	}
	if len(cfg.Hub.Origins) > 0 {
		hubOpts = append(hubOpts, broadcast.WithCheckOrigin(allowOrigins(cfg.Hub.Origins)))
	}
	hub := broadcast.NewHub(hubOpts...)
	defer hub.Close()

	registry := hubRegistry(hub)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.CodeHubListen).
			WithDetailf("Cannot listen on %s", addr).
			WithSuggestion("Pick another address with --addr").
			Wrap(err)
	}

	srv := &http.Server{Handler: a.hubRouter(hub, registry), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	a.logger.Info("hub listening", "addr", ln.Addr().String())
	a.printf("hub listening on %s\n", ln.Addr())

	if persist {
		b, err := a.open(openOptions{middleware: []middleware.Middleware{
			middleware.Prometheus(
				middleware.WithNamespace("storectl"),
				middleware.WithRegistry(registry),
			),
		}})
		if err != nil {
			_ = srv.Close()
			return err
		}
		defer func() { _ = b.close() }()

		url := "ws://" + ln.Addr().String() + "/sync/" + cfg.Scope
		peer, err := broadcast.Dial(ctx, url, b.store,
			broadcast.ApplyRemote(),
			broadcast.WithPeerLogger(a.logger),
		)
		if err != nil {
			_ = srv.Close()
			return errors.New(errors.CodeHubDial).Wrap(err)
		}
		defer peer.Close()
		a.logger.Info("persisting scope", "scope", cfg.Scope, "backend", cfg.Backend)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.New(errors.CodeHubListen).Wrap(err)
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.logger.Warn("hub shutdown", "error", err)
	}
	return nil
}

func hubRegistry(hub *broadcast.Hub) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		middleware.NewHubCollector(hub, "storectl"),
	)
	return registry
}

func (a *app) hubRouter(hub *broadcast.Hub, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if a.cfg.Hub.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	r.Mount("/", hub.Routes())
	return r
}

// allowOrigins accepts requests without an Origin header and those whose
// Origin is listed.
func allowOrigins(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
