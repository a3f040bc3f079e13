package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-backend/internal/config"
	"github.com/dvloznov/finance-backend/internal/gcsuploader"
	infraBQ "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/ingest"
	"github.com/dvloznov/finance-backend/internal/jobs/inmemory"
	"github.com/dvloznov/finance-backend/internal/logger"
	"github.com/dvloznov/finance-backend/internal/oracle"
	"github.com/dvloznov/finance-backend/internal/recurring"
	"github.com/dvloznov/finance-backend/internal/worker"
)

// Standalone worker process. With the in-memory queue it only receives jobs
// published in-process; it exists as the deployment shape for a future
// Cloud Tasks or Pub/Sub backed queue.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	patternRepo, err := infraBQ.NewPatternRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pattern repository")
	}
	defer patternRepo.Close()

	insightsRepo, err := infraBQ.NewInsightsRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create insights repository")
	}
	defer insightsRepo.Close()

	ledgerRepo, err := infraBQ.NewLedgerRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer ledgerRepo.Close()

	statementRepo, err := infraBQ.NewStatementRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create statement repository")
	}
	defer statementRepo.Close()

	runsRepo, err := infraBQ.NewAnalysisRunRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analysis run repository")
	}
	defer runsRepo.Close()

	verifier := oracle.New(oracle.Config{
		APIKey:  cfg.Oracle.APIKey,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Oracle.Timeout,
	}, log)

	detector := recurring.NewDetector(ledgerRepo, patternRepo, verifier, log)
	insightsGen := recurring.NewInsightsGenerator(patternRepo, insightsRepo, ledgerRepo, verifier, log)
	importer := ingest.NewImporter(statementRepo, gcsuploader.NewGCSStorageService(), log)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.BufferSize, cfg.Jobs.Workers, jobStore)

	handler := worker.NewHandler(detector, insightsGen, importer, runsRepo, log)

	if err := jobQueue.Start(ctx, handler.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
