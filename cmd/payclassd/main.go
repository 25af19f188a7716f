package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"

	"payclassd/config"
	"payclassd/logger"
	"payclassd/manager"
	"payclassd/metrics"
	"payclassd/migrations"
	"payclassd/prompt"
	"payclassd/server"
	"payclassd/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.DefaultPath(), "Path to YAML config file")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
		dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	log, err := logger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appConfig, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *listenAddr != "" {
		appConfig.Server.Listen = *listenAddr
	}
	if *dbPath != "" {
		appConfig.Store.DBPath = *dbPath
	}

	log.Info().
		Str("config", *configPath).
		Str("listen", appConfig.Server.Listen).
		Str("db", appConfig.Store.DBPath).
		Msg("payclassd starting")

	// ---------------------------
	// 1. Open SQLite + History Store
	// ---------------------------

	db, err := sql.Open("sqlite3", appConfig.Store.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.Run(db, log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	history := store.NewStore(db)

	// ---------------------------
	// 2. Prompts, Metrics, Client Manager
	// ---------------------------

	prompts, err := prompt.NewLoader(appConfig.PromptsDir)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	collector := metrics.NewCollector(log)
	factory := manager.NewFactory(appConfig, prompts, log, collector)
	mgr := manager.NewManager(factory, log)
	defer func() {
		if err := mgr.CloseAll(); err != nil {
			log.Error().Err(err).Msg("Failed to close LLM clients")
		}
	}()

	// ---------------------------
	// 3. Retention Job
	// ---------------------------

	scheduler := cron.New()
	if appConfig.Store.RetentionDays > 0 {
		retention := time.Duration(appConfig.Store.RetentionDays) * 24 * time.Hour
		_, err := scheduler.AddFunc(appConfig.Store.PruneSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pruned, err := history.PruneOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("Failed to prune classification history")
				return
			}
			log.Info().Int64("pruned", pruned).Msg("Pruned classification history")
			collector.EmitSnapshot()
		})
		if err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", appConfig.Store.PruneSchedule, err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// ---------------------------
	// 4. HTTP Server
	// ---------------------------

	srv := server.New(server.Config{
		ListenAddr: appConfig.Server.Listen,
		Logger:     log,
	}, mgr, history)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("payclassd shutdown complete")
	return nil
}
