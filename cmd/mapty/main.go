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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/geolocation"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/monitoring"
	"github.com/NERVsystems/mapty/pkg/server"
	"github.com/NERVsystems/mapty/pkg/store"
	"github.com/NERVsystems/mapty/pkg/tiles"
	"github.com/NERVsystems/mapty/pkg/tracing"
	ver "github.com/NERVsystems/mapty/pkg/version"
)

const storeCacheSize = 16

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.showVersion {
		fmt.Println(ver.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("mapty stopped with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("mapty stopped")
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		// Tracing is optional.
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	logger.Info("starting mapty",
		"version", ver.BuildVersion,
		"log_level", logLevel(cfg).String(),
		"http_addr", cfg.httpAddr,
		"store", cfg.storeKind,
		"mcp_stdio", cfg.enableMCP,
		"monitoring_enabled", cfg.enableMonitoring,
		"monitoring_addr", cfg.monitoringAddr)

	kv, sqliteDB, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if sqliteDB != nil {
		defer sqliteDB.Close()
	}

	tileProxy := tiles.NewProxy(tiles.DefaultConfig(cfg.tileURL), logger)
	defer tileProxy.Close()

	locator, err := newLocator(cfg, logger)
	if err != nil {
		return err
	}

	var healthChecker *monitoring.HealthChecker
	if cfg.enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
	}

	hub := server.NewHub(logger)
	scene := mapview.NewScene(logger)
	a, err := app.New(app.Config{
		Store:   kv,
		Maps:    scene,
		Locator: locator,
		Alerter: hub,
		Logger:  logger,
		TileURL: tiles.LocalURL,
	})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	if healthChecker != nil {
		registerHealthGates(healthChecker, a)
	}

	mcpServer, err := server.NewServer(a, scene, logger)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	webConfig := server.DefaultWebConfig()
	webConfig.Addr = cfg.httpAddr
	webConfig.RateLimit = cfg.rateLimit
	webConfig.RateBurst = cfg.rateBurst
	web := server.NewWebTransport(server.WebDeps{
		App:    a,
		Scene:  scene,
		Hub:    hub,
		Tiles:  tileProxy.Handler(),
		MCP:    mcpServer.GetMCPServer(),
		Health: healthChecker,
	}, webConfig, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if healthChecker != nil {
		watchDependencies(gctx, g, healthChecker, sqliteDB, tileProxy, logger)
	}

	if err := a.Start(gctx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("start app: %w", err)
	}

	g.Go(func() error {
		if err := web.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web transport: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer cancel()
		if err := web.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown web transport", "error", err)
		}
		return nil
	})

	if cfg.enableMonitoring {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", healthChecker.HealthHandler())

		monitoringServer := &http.Server{
			Addr:              cfg.monitoringAddr,
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting Prometheus metrics server", "addr", cfg.monitoringAddr)
			if err := monitoringServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("monitoring server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
			defer cancel()
			if err := monitoringServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown monitoring server", "error", err)
			}
			return nil
		})
	}

	if cfg.enableMCP {
		g.Go(func() error {
			logger.Info("transport_enabled", "type", "stdio")
			if err := mcpServer.RunWithContext(gctx); err != nil {
				return fmt.Errorf("stdio transport: %w", err)
			}
			// stdin closed; the web interface keeps running.
			logger.Info("stdio transport closed")
			return nil
		})
	}

	logger.Info("server_ready", "url", "http://"+displayAddr(cfg.httpAddr))
	<-gctx.Done()
	logger.Info("shutdown signal received")
	mcpServer.Shutdown()

	return g.Wait()
}

func logLevel(cfg config) slog.Level {
	if cfg.debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openStore returns the workout store. The SQLite handle is returned
// separately for health checks and closing; it is nil for the memory
// store.
func openStore(cfg config, logger *slog.Logger) (store.KV, *store.SQLite, error) {
	var (
		backend  store.KV
		sqliteDB *store.SQLite
	)
	switch cfg.storeKind {
	case storeMemory:
		backend = store.NewMemory()
		logger.Warn("using in-memory store, workouts are lost on exit")
	default:
		db, err := store.OpenSQLite(cfg.dbPath, logger)
		if err != nil {
			return nil, nil, err
		}
		backend, sqliteDB = db, db
	}

	cached, err := store.NewCached(backend, storeCacheSize)
	if err != nil {
		if sqliteDB != nil {
			sqliteDB.Close()
		}
		return nil, nil, err
	}
	return cached, sqliteDB, nil
}

func newLocator(cfg config, logger *slog.Logger) (geolocation.Locator, error) {
	switch {
	case cfg.location != "":
		loc, err := geolocation.NewStatic(cfg.location)
		if err != nil {
			return nil, err
		}
		logger.Info("using configured location", "location", loc.Location.String())
		return loc, nil
	case cfg.locateByIP:
		return geolocation.NewIPLookup(cfg.ipLookup, &http.Client{Timeout: 10 * time.Second}, logger), nil
	}
	logger.Warn("no location source configured; start with --location or --locate-by-ip to show the map")
	return geolocation.Unavailable{}, nil
}

// registerHealthGates makes readiness wait for the stored workouts to be
// restored. A missing map only degrades health; the page still works.
func registerHealthGates(hc *monitoring.HealthChecker, a *app.App) {
	hc.Gate("workouts", true, func() error {
		if !a.Started() {
			return errors.New("stored workouts not restored yet")
		}
		return nil
	})
	hc.Gate("map", false, func() error {
		if !a.MapReady() {
			return app.ErrMapNotReady
		}
		return nil
	})
}

// watchDependencies checks the tile upstream and the SQLite store every 30
// seconds, and refreshes the runtime gauges, until ctx is done.
func watchDependencies(ctx context.Context, g *errgroup.Group, hc *monitoring.HealthChecker, db *store.SQLite, proxy *tiles.Proxy, logger *slog.Logger) {
	const interval, timeout = 30 * time.Second, 10 * time.Second

	deps := map[string]monitoring.Probe{"tiles": proxy.Probe}
	if db != nil {
		deps["sqlite"] = db.Ping
	}
	names := make([]string, 0, len(deps))
	for name, probe := range deps {
		names = append(names, name)
		g.Go(func() error {
			hc.Watch(ctx, name, probe, interval, timeout)
			return nil
		})
	}
	g.Go(func() error {
		monitoring.CollectSystemMetrics(ctx, 15*time.Second)
		return nil
	})

	logger.Info("started dependency monitoring",
		"services", names,
		"check_interval", interval.String())
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
