// Package config loads exporter settings from the environment and an
// optional .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/portal_export/internal/browser"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/portals"
)

// Session strategies.
const (
	StrategyAttach = "attach"
	StrategyLaunch = "launch"
)

// Config holds all exporter configuration.
type Config struct {
	// Browser
	Strategy    string
	CDPURL      string
	ProfileDir  string
	DownloadDir string
	BrowserPath string
	Headless    bool
	DebugPort   int
	EvalTimeout time.Duration

	// Portals
	FastURL     string
	ClassicURL  string
	PortalsFile string

	// Storage
	DBURL        string
	RunlogDir    string
	EvidenceDir  string
	EvidenceKeep int

	// Control API
	BindAddr         string
	BindFallback     []string
	MinRunInterval   time.Duration
	NotifyURL        string
	LogLevel         string
	LogFile          string
	ShutdownTimeout  time.Duration
	RunlogBufferSize int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Strategy:         strings.ToLower(getEnvOrDefault("EXPORTER_STRATEGY", StrategyAttach)),
		CDPURL:           getEnvOrDefault("EXPORTER_CDP_URL", "http://localhost:9222"),
		ProfileDir:       getEnvOrDefault("EXPORTER_PROFILE_DIR", "./data/profile"),
		DownloadDir:      getEnvOrDefault("EXPORTER_DOWNLOAD_DIR", "./data/downloads"),
		BrowserPath:      os.Getenv("EXPORTER_BROWSER_PATH"),
		Headless:         getEnvBoolOrDefault("EXPORTER_HEADLESS", false),
		DebugPort:        getEnvIntOrDefault("EXPORTER_DEBUG_PORT", 9333),
		EvalTimeout:      getEnvDurationOrDefault("EXPORTER_EVAL_TIMEOUT", 5*time.Second),
		FastURL:          os.Getenv("FAST_URL"),
		ClassicURL:       os.Getenv("CLASSIC_URL"),
		PortalsFile:      os.Getenv("EXPORTER_PORTALS_FILE"),
		DBURL:            getEnvOrDefault("EXPORTER_DB_URL", "sqlite:///data/cotizadores.db"),
		RunlogDir:        getEnvOrDefault("EXPORTER_RUNLOG_DIR", "./data/runs"),
		EvidenceDir:      getEnvOrDefault("EXPORTER_EVIDENCE_DIR", "./data/evidence"),
		EvidenceKeep:     getEnvIntOrDefault("EXPORTER_EVIDENCE_KEEP", 50),
		BindAddr:         getEnvOrDefault("EXPORTER_BIND_ADDR", "127.0.0.1:8190"),
		BindFallback:     splitList(getEnvOrDefault("EXPORTER_BIND_FALLBACK", "127.0.0.1:8191,127.0.0.1:8192")),
		MinRunInterval:   getEnvDurationOrDefault("EXPORTER_MIN_RUN_INTERVAL", 30*time.Second),
		NotifyURL:        os.Getenv("EXPORTER_NOTIFY_URL"),
		LogLevel:         strings.ToLower(getEnvOrDefault("EXPORTER_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("EXPORTER_LOG_FILE", "logs/exporter.log"),
		ShutdownTimeout:  getEnvDurationOrDefault("EXPORTER_SHUTDOWN_TIMEOUT", 10*time.Second),
		RunlogBufferSize: getEnvIntOrDefault("EXPORTER_RUNLOG_BUFFER", 64),
	}
	if cfg.EvalTimeout < time.Second {
		cfg.EvalTimeout = time.Second
	}
	if cfg.Strategy != StrategyAttach && cfg.Strategy != StrategyLaunch {
		return nil, failure.Newf(failure.CodeValidation, "EXPORTER_STRATEGY must be %q or %q, got %q", StrategyAttach, StrategyLaunch, cfg.Strategy)
	}
	return cfg, nil
}

// BrowserStrategy builds the configured session strategy.
func (c *Config) BrowserStrategy() browser.Strategy {
	if c.Strategy == StrategyLaunch {
		return browser.NewLaunchPersistent(browser.LaunchConfig{
			ProfileDir:  c.ProfileDir,
			DownloadDir: c.DownloadDir,
			DebugPort:   c.DebugPort,
			BrowserPath: c.BrowserPath,
			Headless:    c.Headless,
			EvalTimeout: c.EvalTimeout,
		})
	}
	return &browser.Attach{CDPURL: c.CDPURL, EvalTimeout: c.EvalTimeout}
}

// Portals builds the portal set with any YAML overrides applied.
func (c *Config) Portals() (*portals.Set, error) {
	set := portals.NewSet(c.FastURL, c.ClassicURL)
	if err := set.LoadFile(c.PortalsFile); err != nil {
		return nil, err
	}
	return set, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
