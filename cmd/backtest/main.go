// Package main is the entry point for the dividend-capture backtest engine.
// It runs one simulation over historical prices and dividends, persists the
// results to the results ledger, and can optionally keep serving stored
// results over HTTP with a scheduled re-run job.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/config"
	"github.com/aristath/divcap/internal/database"
	"github.com/aristath/divcap/internal/engine"
	"github.com/aristath/divcap/internal/marketdata"
	"github.com/aristath/divcap/internal/results"
	"github.com/aristath/divcap/internal/scheduler"
	"github.com/aristath/divcap/internal/server"
	"github.com/aristath/divcap/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	serve := flag.Bool("serve", false, "after the run, serve stored results over HTTP")
	useCache := flag.Bool("cache", false, "load market data from the msgpack cache instead of the history database")
	pricesCSV := flag.String("import-prices", "", "CSV of instrument,date,close to import into the history database")
	dividendsCSV := flag.String("import-dividends", "", "CSV of instrument,ex_date,record_date,amount to import")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})

	if *pricesCSV != "" || *dividendsCSV != "" {
		importData(cfg, log, *pricesCSV, *dividendsCSV)
		return
	}

	store := loadStore(cfg, log, *useCache)

	report := store.Validate(cfg.Universe)
	if err := report.Err(); err != nil {
		log.Fatal().Err(err).Msg("Market data validation failed")
	}

	resultsDB, err := database.New(database.Config{
		Path:    cfg.Data.ResultsDBPath,
		Profile: database.ProfileLedger,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()
	if err := resultsDB.Migrate(results.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate results database")
	}
	resultsRepo := results.NewRepository(resultsDB, log)

	eng := engine.New(cfg, store, log)
	out, err := eng.Run(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	runID, err := resultsRepo.SaveRun(out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save results")
	}

	reportPath, err := resultsRepo.ExportJSON(runID, cfg.Data.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to export report")
	}
	log.Info().Str("run_id", runID).Str("report", reportPath).Msg("Run complete")

	if *serve || cfg.Server.Enabled {
		runServer(cfg, store, resultsRepo, log)
	}
}

// importData loads CSV files into the history database and exits.
func importData(cfg *config.Config, log zerolog.Logger, pricesCSV, dividendsCSV string) {
	historyDB, err := database.New(database.Config{
		Path:    cfg.Data.HistoryDBPath,
		Profile: database.ProfileCache,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()
	if err := historyDB.Migrate(marketdata.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}

	repo := marketdata.NewRepository(historyDB, log)
	if pricesCSV != "" {
		if _, err := repo.ImportPricesCSV(pricesCSV); err != nil {
			log.Fatal().Err(err).Msg("Price import failed")
		}
	}
	if dividendsCSV != "" {
		if _, err := repo.ImportDividendsCSV(dividendsCSV); err != nil {
			log.Fatal().Err(err).Msg("Dividend import failed")
		}
	}
}

// loadStore loads market data from the cache when requested, falling back to
// the history database. A database load refreshes the cache for next time.
func loadStore(cfg *config.Config, log zerolog.Logger, useCache bool) *marketdata.Store {
	if useCache {
		store := marketdata.NewStore(log)
		if err := store.LoadCache(cfg.Data.CachePath); err == nil {
			return store
		} else {
			log.Warn().Err(err).Msg("Cache load failed, reading history database")
		}
	}

	historyDB, err := database.New(database.Config{
		Path:    cfg.Data.HistoryDBPath,
		Profile: database.ProfileCache,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()
	if err := historyDB.Migrate(marketdata.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate history database")
	}

	repo := marketdata.NewRepository(historyDB, log)
	store, err := repo.LoadStore(cfg.Universe, cfg.StartDate(), cfg.EndDate(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market data")
	}

	if err := store.SaveCache(cfg.Data.CachePath); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh market data cache")
	}

	return store
}

// runServer serves stored results until interrupted, with the optional
// scheduled re-run job.
func runServer(cfg *config.Config, store *marketdata.Store, resultsRepo *results.Repository, log zerolog.Logger) {
	handlers := server.NewHandlers(resultsRepo, log)
	srv := server.New(cfg.Server.Port, cfg.Server.AllowedOrigins, handlers, log)

	var sched *scheduler.Scheduler
	if cfg.Server.RerunSchedule != "" {
		sched = scheduler.New(log)
		job := engine.NewRerunJob(cfg, store, resultsRepo, log)
		if err := sched.AddJob(cfg.Server.RerunSchedule, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to register re-run job")
		}
		sched.Start()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	if sched != nil {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}
