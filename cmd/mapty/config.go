package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/NERVsystems/mapty/pkg/mapview"
)

// config is the process configuration. Every flag has a MAPTY_*
// environment variable supplying its default.
type config struct {
	showVersion bool
	debug       bool

	httpAddr   string
	storeKind  string
	dbPath     string
	tileURL    string
	ipLookup   string
	location   string
	locateByIP bool

	enableMCP        bool
	enableMonitoring bool
	monitoringAddr   string

	rateLimit       float64
	rateBurst       int
	shutdownTimeout time.Duration
}

const (
	storeSQLite = "sqlite"
	storeMemory = "memory"
)

func parseConfig(args []string, output io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("mapty", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.BoolVar(&cfg.showVersion, "version", false, "Display version information")
	fs.BoolVar(&cfg.debug, "debug", getBoolEnv("MAPTY_DEBUG", false), "Enable debug logging")

	fs.StringVar(&cfg.httpAddr, "http-addr", getEnv("MAPTY_HTTP_ADDR", ":8080"), "Address of the web interface")
	fs.StringVar(&cfg.storeKind, "store", getEnv("MAPTY_STORE", storeSQLite), "Workout storage: sqlite or memory")
	fs.StringVar(&cfg.dbPath, "db-path", getEnv("MAPTY_DB_PATH", "mapty.db"), "SQLite database file")
	fs.StringVar(&cfg.tileURL, "tile-url", getEnv("MAPTY_TILE_URL", mapview.DefaultTileURL), "Upstream tile URL template")
	fs.StringVar(&cfg.location, "location", getEnv("MAPTY_LOCATION", ""), "Current position as \"lat,lon\" or MGRS")
	fs.BoolVar(&cfg.locateByIP, "locate-by-ip", getBoolEnv("MAPTY_LOCATE_BY_IP", false), "Approximate the current position from the public IP address")
	fs.StringVar(&cfg.ipLookup, "ip-lookup-url", getEnv("MAPTY_IP_LOOKUP_URL", ""), "IP geolocation endpoint (ip-api compatible)")

	fs.BoolVar(&cfg.enableMCP, "enable-mcp", getBoolEnv("MAPTY_ENABLE_MCP", false), "Serve MCP on stdin/stdout in addition to the web interface")
	fs.BoolVar(&cfg.enableMonitoring, "enable-monitoring", getBoolEnv("MAPTY_ENABLE_MONITORING", true), "Enable Prometheus metrics and health checks")
	fs.StringVar(&cfg.monitoringAddr, "monitoring-addr", getEnv("MAPTY_MONITORING_ADDR", ":9090"), "Monitoring server address")

	fs.Float64Var(&cfg.rateLimit, "rate-limit", getFloatEnv("MAPTY_RATE_LIMIT", 10), "API requests per second per client (0 disables)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", getIntEnv("MAPTY_RATE_BURST", 20), "API burst size per client")
	fs.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", getDurationEnv("MAPTY_SHUTDOWN_TIMEOUT", 30*time.Second), "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.storeKind {
	case storeSQLite:
		if c.dbPath == "" {
			return fmt.Errorf("--db-path is required with --store=%s", storeSQLite)
		}
	case storeMemory:
	default:
		return fmt.Errorf("unknown store %q: use %s or %s", c.storeKind, storeSQLite, storeMemory)
	}
	if c.location != "" && c.locateByIP {
		return fmt.Errorf("--location and --locate-by-ip are mutually exclusive")
	}
	if c.rateLimit < 0 {
		return fmt.Errorf("--rate-limit must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
