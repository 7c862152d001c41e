package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/takama/daemon"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/database"
	"github.com/dbehnke/adsbfeed/internal/feed"
	"github.com/dbehnke/adsbfeed/internal/heartbeat"
	"github.com/dbehnke/adsbfeed/internal/statistics"
)

const (
	name        = "adsbfeed"
	description = "ADS-B and Mode-S receiver feed aggregator"
	VERSION     = "1.0.0"
)

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage runs a service command or the aggregator itself
func (service *Service) Manage() (string, error) {
	configFile := flag.String("config", getDefaultConfig(), "Configuration file path")
	dbPath := flag.String("db", "", "SQLite configuration store, overrides database.path")
	importOnly := flag.Bool("import", false, "Copy the configuration file's feeds into the database and exit")
	command := flag.String("service", "", "install | remove | start | stop | status")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		return fmt.Sprintf("%s %s", name, VERSION), nil
	}

	usage := "Usage: " + name + " -service install | remove | start | stop | status"
	switch *command {
	case "":
	case "install":
		path, err := filepath.Abs(*configFile)
		if err != nil {
			return "Could not resolve config path", err
		}
		args := []string{"-config", path}
		if *dbPath != "" {
			args = append(args, "-db", *dbPath)
		}
		return service.Install(args...)
	case "remove":
		return service.Remove()
	case "start":
		return service.Start()
	case "stop":
		return service.Stop()
	case "status":
		return service.Status()
	default:
		return usage, nil
	}

	return run(*configFile, *dbPath, *importOnly)
}

func run(configFile, dbPath string, importOnly bool) (string, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return "Could not load configuration", err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return "Could not create logger", err
	}
	defer logger.Sync()
	logger.Info("starting", zap.String("version", VERSION), zap.String("config", configFile))

	var store *database.ConfigurationRepository
	if cfg.Database.Path != "" {
		db, err := database.NewDB(database.Config{Path: cfg.Database.Path}, logger.Named("database"))
		if err != nil {
			return "Could not open database", err
		}
		defer db.Close()
		store = database.NewConfigurationRepository(db.GetDB())

		if importOnly {
			if err := store.Save(cfg); err != nil {
				return "Could not import configuration", err
			}
			return fmt.Sprintf("Imported %d receivers and %d merged feeds into %s",
				len(cfg.Receivers), len(cfg.MergedFeeds), cfg.Database.Path), nil
		}
		if err := loadFeeds(cfg, store, logger); err != nil {
			return "Could not load configuration from database", err
		}
	} else if importOnly {
		return "Nothing to import into", errors.New("no database configured, use -db")
	}

	collector := statistics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	manager := feed.NewManager(feed.Options{Logger: logger}, collector)
	defer manager.Close()
	if err := manager.Apply(cfg); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return "Invalid configuration", err
		}
		logger.Error("some feeds could not be started", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb := heartbeat.New(heartbeat.Options{
		FastTick: cfg.Heartbeat.FastTick,
		SlowTick: cfg.Heartbeat.SlowTick,
		Logger:   logger,
	})
	hb.FastTick.Subscribe(manager.FastTick)
	hb.SlowTick.Subscribe(manager.SlowTick)
	go hb.Run(ctx)

	rebroadcasts := startRebroadcast(ctx, cfg.Rebroadcast, manager, logger)
	defer rebroadcasts.Close()

	var srv *http.Server
	if cfg.Metrics.Address != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           newMux(manager, registry, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server listening", zap.String("address", cfg.Metrics.Address))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", zap.Error(err))
			}
		}()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(interrupt)

	for sig := range interrupt {
		if sig == syscall.SIGHUP {
			reload(configFile, cfg.Database.Path, store, manager, logger)
			continue
		}
		logger.Info("shutting down", zap.Stringer("signal", sig))
		break
	}

	cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
	}
	return "Stopped", nil
}

// loadFeeds replaces the file's feeds with the stored ones. An empty store
// is seeded from the file.
func loadFeeds(cfg *config.Configuration, store *database.ConfigurationRepository, logger *zap.Logger) error {
	empty, err := store.Empty()
	if err != nil {
		return err
	}
	if empty {
		logger.Info("configuration store is empty, seeding it from the file")
		return store.Save(cfg)
	}

	stored, err := store.Load()
	if err != nil {
		return err
	}
	cfg.Receivers = stored.Receivers
	cfg.MergedFeeds = stored.MergedFeeds
	cfg.Rebroadcast = stored.Rebroadcast
	logger.Info("feeds loaded from database",
		zap.Int("receivers", len(cfg.Receivers)),
		zap.Int("merged_feeds", len(cfg.MergedFeeds)))
	return nil
}

// reload re-reads the feeds and applies them. Rebroadcast servers keep the
// settings they started with.
func reload(configFile, dbPath string, store *database.ConfigurationRepository, manager *feed.Manager, logger *zap.Logger) {
	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Error("reload failed", zap.Error(err))
		return
	}
	if store != nil {
		stored, err := store.Load()
		if err != nil {
			logger.Error("reload from database failed", zap.String("path", dbPath), zap.Error(err))
			return
		}
		cfg.Receivers, cfg.MergedFeeds = stored.Receivers, stored.MergedFeeds
	}
	if err := manager.Apply(cfg); err != nil {
		logger.Error("reload applied with errors", zap.Error(err))
		return
	}
	logger.Info("configuration reloaded")
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

func getDefaultConfig() string {
	candidates := []string{
		"adsbfeed.yaml",
		"/etc/adsbfeed/adsbfeed.yaml",
		"/usr/local/etc/adsbfeed.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "adsbfeed.yaml"
}

func main() {
	srv, err := daemon.New(name, description, daemon.SystemDaemon)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	service := &Service{srv}
	status, err := service.Manage()
	if err != nil {
		fmt.Fprintln(os.Stderr, status, "\nError:", err)
		os.Exit(1)
	}
	fmt.Println(status)
}
