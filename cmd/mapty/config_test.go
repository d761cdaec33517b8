package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/geolocation"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/monitoring"
	"github.com/NERVsystems/mapty/pkg/store"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if cfg.httpAddr != ":8080" {
		t.Errorf("httpAddr = %q", cfg.httpAddr)
	}
	if cfg.storeKind != storeSQLite || cfg.dbPath != "mapty.db" {
		t.Errorf("store = %q %q", cfg.storeKind, cfg.dbPath)
	}
	if cfg.tileURL != mapview.DefaultTileURL {
		t.Errorf("tileURL = %q", cfg.tileURL)
	}
	if !cfg.enableMonitoring || cfg.enableMCP {
		t.Errorf("unexpected transports: monitoring=%v mcp=%v", cfg.enableMonitoring, cfg.enableMCP)
	}
	if cfg.shutdownTimeout != 30*time.Second {
		t.Errorf("shutdownTimeout = %v", cfg.shutdownTimeout)
	}
}

func TestParseConfigEnvironment(t *testing.T) {
	t.Setenv("MAPTY_HTTP_ADDR", ":9000")
	t.Setenv("MAPTY_STORE", "memory")
	t.Setenv("MAPTY_ENABLE_MONITORING", "false")
	t.Setenv("MAPTY_RATE_LIMIT", "2.5")
	t.Setenv("MAPTY_RATE_BURST", "not-a-number")

	cfg, err := parseConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if cfg.httpAddr != ":9000" || cfg.storeKind != storeMemory || cfg.enableMonitoring {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.rateLimit != 2.5 {
		t.Errorf("rateLimit = %v", cfg.rateLimit)
	}
	if cfg.rateBurst != 20 {
		t.Errorf("invalid MAPTY_RATE_BURST should fall back to 20, got %d", cfg.rateBurst)
	}

	// Flags win over the environment.
	cfg, err = parseConfig([]string{"--http-addr", "127.0.0.1:7000"}, io.Discard)
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if cfg.httpAddr != "127.0.0.1:7000" {
		t.Errorf("httpAddr = %q", cfg.httpAddr)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown store", []string{"--store", "redis"}},
		{"empty db path", []string{"--db-path", ""}},
		{"two location sources", []string{"--location", "52.52,13.405", "--locate-by-ip"}},
		{"negative rate", []string{"--rate-limit", "-1"}},
		{"unknown flag", []string{"--http-only"}},
		{"positional argument", []string{"serve"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseConfig(tt.args, io.Discard); err == nil {
				t.Errorf("parseConfig(%v) succeeded", tt.args)
			}
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLocator(t *testing.T) {
	logger := discardLogger()

	loc, err := newLocator(config{location: "52.52,13.405"}, logger)
	if err != nil {
		t.Fatalf("newLocator() error = %v", err)
	}
	static, ok := loc.(*geolocation.Static)
	if !ok {
		t.Fatalf("expected a static locator, got %T", loc)
	}
	if static.Location.Latitude != 52.52 || static.Location.Longitude != 13.405 {
		t.Errorf("unexpected location %v", static.Location)
	}

	if _, err := newLocator(config{location: "somewhere"}, logger); err == nil {
		t.Error("expected an error for an unparsable location")
	}

	loc, _ = newLocator(config{locateByIP: true}, logger)
	if _, ok := loc.(*geolocation.IPLookup); !ok {
		t.Errorf("expected an IP locator, got %T", loc)
	}

	loc, _ = newLocator(config{}, logger)
	if _, ok := loc.(geolocation.Unavailable); !ok {
		t.Errorf("expected no locator, got %T", loc)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	kv, db, err := openStore(config{storeKind: storeMemory}, logger)
	if err != nil {
		t.Fatalf("openStore(memory) error = %v", err)
	}
	if db != nil {
		t.Error("memory store returned a database handle")
	}
	if err := kv.SetItem(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "mapty.db")
	kv, db, err = openStore(config{storeKind: storeSQLite, dbPath: path}, logger)
	if err != nil {
		t.Fatalf("openStore(sqlite) error = %v", err)
	}
	defer db.Close()
	if err := kv.SetItem(ctx, "runningWorkouts", "[]"); err != nil {
		t.Fatal(err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if v, ok, err := db.GetItem(ctx, "runningWorkouts"); err != nil || !ok || v != "[]" {
		t.Errorf("write did not reach sqlite: %q %v %v", v, ok, err)
	}
}

func TestDisplayAddr(t *testing.T) {
	if got := displayAddr(":8080"); got != "localhost:8080" {
		t.Errorf("displayAddr(:8080) = %q", got)
	}
	if got := displayAddr("0.0.0.0:80"); got != "0.0.0.0:80" {
		t.Errorf("displayAddr(0.0.0.0:80) = %q", got)
	}
}

func TestRegisterHealthGates(t *testing.T) {
	scene := mapview.NewScene(discardLogger())
	a, err := app.New(app.Config{
		Store:   store.NewMemory(),
		Maps:    scene,
		Locator: geolocation.Unavailable{},
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	hc := monitoring.NewHealthChecker(monitoring.ServiceName, "test")
	registerHealthGates(hc, a)

	health := hc.GetHealth()
	if health.Status != monitoring.StatusUnhealthy || len(health.NotReady) != 1 || health.NotReady[0] != "workouts" {
		t.Fatalf("before start: status %s, not ready %v", health.Status, health.NotReady)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	health = hc.GetHealth()
	if health.Status != monitoring.StatusDegraded || len(health.NotReady) != 0 {
		t.Errorf("after start without a location: status %s, not ready %v", health.Status, health.NotReady)
	}
	if health.Connections["map"].Status != "error" {
		t.Errorf("map gate = %+v", health.Connections["map"])
	}
}
