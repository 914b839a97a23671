package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"userscript-engine/internal/headless"
	"userscript-engine/internal/importer"
	"userscript-engine/internal/navigation"
	"userscript-engine/internal/registry"
	"userscript-engine/internal/scheduler"
	"userscript-engine/internal/store"
	"userscript-engine/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Headless struct {
		Timeout    string `yaml:"timeout"`
		AllowFetch bool   `yaml:"allow_fetch"`
	} `yaml:"headless"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	d, err := time.ParseDuration(c.Headless.Timeout)
	if err != nil {
		return fmt.Errorf("headless.timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("headless.timeout must be positive, got %s", d)
	}
	return nil
}

// headlessConfig returns the runtime configuration. validate has checked
// the timeout.
func (c *Config) headlessConfig() headless.Config {
	hc := headless.DefaultConfig()
	if d, err := time.ParseDuration(c.Headless.Timeout); err == nil {
		hc.Timeout = d
	}
	hc.AllowFetch = c.Headless.AllowFetch
	return hc
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("userscriptd starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	scripts, err := registry.New(db, logger)
	if err != nil {
		logger.Error("load scripts", "err", err)
		db.Close()
		os.Exit(1)
	}
	importScripts(scripts, cfg.ScriptsDir, logger)

	events := navigation.NewEventBus(logger)
	engine := scheduler.NewEngine(scripts, events, logger)

	hc := cfg.headlessConfig()
	pool := headless.NewPool(hc, events, logger)
	engine.RegisterExecutor(navigation.TransportHeadless, pool)

	// Start web server
	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithHeadless(hc, pool),
		web.WithEngine(engine),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(scripts, events, logger, webOpts...)
	engine.RegisterExecutor(navigation.TransportWS, webServer.Pages())

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(events, engine, cfg, logger)

	engine.Start()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	pool.CloseAll()
	engine.Stop()

	logger.Info("goodbye")
}

// importScripts adds every userscript file in dir whose name is not yet
// registered.
func importScripts(scripts *registry.Registry, dir string, logger *slog.Logger) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return
	}

	found, errs := importer.ScanDir(dir)
	for _, err := range errs {
		logger.Warn("skip userscript file", "err", err)
	}
	added := 0
	for _, s := range found {
		if _, err := scripts.Get(s.Name); err == nil {
			continue
		}
		if err := scripts.Add(s); err != nil {
			logger.Warn("import userscript", "name", s.Name, "err", err)
			continue
		}
		added++
	}
	logger.Info("userscripts imported", "dir", dir, "found", len(found), "added", added)
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "userscripts.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "userscripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Headless.Timeout == "" {
		cfg.Headless.Timeout = "5s"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
