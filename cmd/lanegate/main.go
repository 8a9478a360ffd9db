package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfgpkg "github.com/lanegate/lanegate/internal/config"
	"github.com/lanegate/lanegate/internal/dispatch"
	"github.com/lanegate/lanegate/internal/forward"
	"github.com/lanegate/lanegate/internal/gateway"
	"github.com/lanegate/lanegate/internal/logger"
	"github.com/lanegate/lanegate/internal/metrics"
	"github.com/lanegate/lanegate/internal/model"
	"github.com/lanegate/lanegate/internal/ratelimit"
	"github.com/lanegate/lanegate/internal/stream"
	"github.com/lanegate/lanegate/internal/version"
)

func main() {
	configPath := flag.String("config", "./examples/config.yaml", "path to YAML config")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	cfg, settings, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(settings.LogLevel, *pretty)
	defer func() { _ = log.Sync() }()

	d := dispatch.New(cfg)
	m := metrics.New(func() float64 { return float64(d.Sessions()) })
	limiter := ratelimit.NewLimiter()
	transports := forward.NewRegistry(forward.DefaultOptions())

	log.Info("lanegate starting",
		logger.String("version", version.Value),
		logger.Int("http_servers", len(cfg.HTTPServers)),
		logger.Int("stream_servers", len(cfg.StreamServers)),
		logger.Int("services", len(cfg.Services)),
		logger.Int("routes", len(cfg.Routes)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServers []*http.Server
	for _, s := range cfg.HTTPServers {
		h := &gateway.Handler{
			Server:     s.Name,
			Dispatcher: d,
			Transports: transports,
			Limiter:    limiter,
			Metrics:    m,
			Log:        log,
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", s.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		httpServers = append(httpServers, srv)
		log.Info("http server listening",
			logger.String("server", s.Name),
			logger.Uint16("port", s.Port),
			logger.String("api_version", s.Version))
		go func(srv *http.Server, name string) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("http listen failed", logger.String("server", name), logger.Error(err))
			}
		}(srv, s.Name)
	}

	for _, s := range cfg.StreamServers {
		switch s.Protocol {
		case model.ProtoTCP:
			srv := &stream.TCPServer{Server: s, Dispatcher: d, Metrics: m, Log: log}
			go func(name string) {
				if err := srv.Run(ctx); err != nil {
					log.Fatal("tcp server failed", logger.String("server", name), logger.Error(err))
				}
			}(s.Name)
		case model.ProtoUDP:
			srv := &stream.UDPServer{Server: s, Dispatcher: d, Metrics: m, Log: log}
			go func(name string) {
				if err := srv.Run(ctx); err != nil {
					log.Fatal("udp server failed", logger.String("server", name), logger.Error(err))
				}
			}(s.Name)
		}
	}

	if settings.AdminAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		admin := &http.Server{Addr: settings.AdminAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		log.Info("admin listening", logger.String("address", settings.AdminAddress))
		go func() {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin listen failed", logger.Error(err))
			}
		}()
	}

	// SIGHUP swaps routing config in place. Listener topology (ports added
	// or removed) needs a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			next, _, err := cfgpkg.Load(*configPath)
			if err != nil {
				log.Error("reload rejected, keeping current config", logger.Error(err))
				continue
			}
			d.Rebuild(next)
			log.Info("config reloaded",
				logger.Int("services", len(next.Services)),
				logger.Int("routes", len(next.Routes)))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range httpServers {
		_ = srv.Shutdown(shutdownCtx)
	}
	transports.CloseIdle()
}
