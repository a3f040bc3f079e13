package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/finance-backend/internal/config"
	"github.com/dvloznov/finance-backend/internal/gcsuploader"
	infraBQ "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/ingest"
	"github.com/dvloznov/finance-backend/internal/logger"
)

func main() {
	log := logger.New()

	gcsURI := flag.String("gcs-uri", "", "GCS URI of the statement CSV (e.g. gs://bucket/statement.csv)")
	userID := flag.String("user-id", "", "User to attribute imported transactions to (required)")
	documentID := flag.String("document-id", "", "Document row to attach transactions to (required)")
	flag.Parse()

	if *gcsURI == "" || *userID == "" || *documentID == "" {
		log.Fatal().Msg("Error: --gcs-uri, --user-id and --document-id are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Timeout so the CLI doesn't hang.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctx = logger.WithContext(ctx, log)

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

	runID, err := runsRepo.Start(ctx, *userID, infraBQ.RunTypeIngest)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record analysis run")
	}

	importer := ingest.NewImporter(statementRepo, gcsuploader.NewGCSStorageService(), log)

	log.Info().Str("gcs_uri", *gcsURI).Str("user_id", *userID).Msg("Starting ingestion")

	result, err := importer.ImportStatement(ctx, *userID, *documentID, runID, *gcsURI)
	if err != nil {
		if runID != "" {
			runsRepo.MarkFailed(ctx, runID, err)
		}
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	if runID != "" {
		if err := runsRepo.MarkSucceeded(ctx, runID, result.Imported); err != nil {
			log.Warn().Err(err).Msg("Failed to close analysis run")
		}
	}

	fmt.Printf("Ingestion completed: %d imported, %d skipped as duplicates.\n", result.Imported, result.Skipped)
}
