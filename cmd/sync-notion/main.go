package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/finance-backend/internal/config"
	infraBQ "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/logger"
	"github.com/dvloznov/finance-backend/internal/notionsync"
)

func main() {
	log := logger.New()

	userID := flag.String("user-id", "", "User whose recurring payments to sync (required)")
	notionToken := flag.String("notion-token", "", "Notion API token (defaults to configured token)")
	notionDBID := flag.String("notion-db-id", "", "Notion database ID (defaults to configured database)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *notionToken == "" {
		*notionToken = cfg.Notion.Token
	}
	if *notionDBID == "" {
		*notionDBID = cfg.Notion.DatabaseID
	}

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required (or set notion.token_env)")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required (or set notion.database_id)")
	}

	// Timeout so the CLI doesn't hang.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("user_id", *userID).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	patternRepo, err := infraBQ.NewPatternRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pattern repository")
	}
	defer patternRepo.Close()

	notionClient := notionsync.NewNotionClient(*notionToken)

	if err := notionsync.SyncRecurringPatterns(ctx, patternRepo, notionClient, *notionDBID, *userID, *dryRun); err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Println("Sync completed successfully.")
}
