package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/config"
	infraBQ "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/logger"
	"github.com/dvloznov/finance-backend/internal/oracle"
	"github.com/dvloznov/finance-backend/internal/recurring"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "detect":
		runDetect(log)
	case "insights":
		runInsights(log)
	case "upcoming":
		runUpcoming(log)
	case "statements":
		runStatements(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Backend CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  detect      Run recurring payment detection for a user")
	fmt.Println("  insights    Generate and print a user's insights snapshot")
	fmt.Println("  upcoming    List recurring payments expected soon")
	fmt.Println("  statements  List a user's uploaded statements")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func loadConfig(log zerolog.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return &cfg
}

func newDetector(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*recurring.Detector, func()) {
	patternRepo, err := infraBQ.NewPatternRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pattern repository")
	}
	ledgerRepo, err := infraBQ.NewLedgerRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}

	verifier := oracle.New(oracle.Config{
		APIKey:  cfg.Oracle.APIKey,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Oracle.Timeout,
	}, log)

	detector := recurring.NewDetector(ledgerRepo, patternRepo, verifier, log)
	closeAll := func() {
		patternRepo.Close()
		ledgerRepo.Close()
	}
	return detector, closeAll
}

func runDetect(log zerolog.Logger) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	userID := fs.String("user-id", "", "User to analyze (required)")
	force := fs.Bool("force", false, "Bypass cached verdicts and re-analyze")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}

	cfg := loadConfig(log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	detector, closeAll := newDetector(ctx, cfg, log)
	defer closeAll()

	patterns, err := detector.Detect(ctx, *userID, *force)
	if err != nil {
		log.Fatal().Err(err).Msg("Detection failed")
	}

	fmt.Printf("\n=== Recurring Payments (%d) ===\n", len(patterns))
	for i, p := range patterns {
		fmt.Printf("\n%d. %s (%s)\n", i+1, p.MerchantName, p.MerchantKey)
		fmt.Printf("   Frequency:  %s\n", p.Frequency)
		fmt.Printf("   Amount:     %.2f (%s)\n", p.TypicalAmount, p.AmountVariance)
		fmt.Printf("   Confidence: %s\n", p.Confidence)
		if p.NextExpectedDate != nil {
			fmt.Printf("   Next:       %s\n", p.NextExpectedDate.Format("2006-01-02"))
		}
		if p.AIVerified {
			fmt.Printf("   Verified:   yes\n")
		}
	}
	fmt.Println()
}

func runInsights(log zerolog.Logger) {
	fs := flag.NewFlagSet("insights", flag.ExitOnError)
	userID := fs.String("user-id", "", "User to analyze (required)")
	force := fs.Bool("force", false, "Regenerate even when a fresh snapshot exists")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}

	cfg := loadConfig(log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

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

	verifier := oracle.New(oracle.Config{
		APIKey:  cfg.Oracle.APIKey,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Oracle.Timeout,
	}, log)

	gen := recurring.NewInsightsGenerator(patternRepo, insightsRepo, ledgerRepo, verifier, log)

	snapshot, err := gen.GetInsights(ctx, *userID, *force)
	if err != nil {
		log.Fatal().Err(err).Msg("Insights generation failed")
	}

	fmt.Printf("\n=== Insights (generated %s) ===\n", snapshot.AnalyzedAt.Format(time.RFC3339))
	fmt.Printf("Monthly recurring spend: %.2f across %d merchants (%.1f%% of expenses)\n",
		snapshot.Summary.TotalMonthly, snapshot.Summary.Count, snapshot.Summary.PercentageOfExpenses)
	for i, insight := range snapshot.Insights {
		fmt.Printf("\n%d. [%s] %s\n   %s\n", i+1, insight.Type, insight.Title, insight.Message)
	}
	fmt.Println()
}

func runUpcoming(log zerolog.Logger) {
	fs := flag.NewFlagSet("upcoming", flag.ExitOnError)
	userID := fs.String("user-id", "", "User to analyze (required)")
	days := fs.Int("days", 7, "Look-ahead window in days")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}

	cfg := loadConfig(log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	detector, closeAll := newDetector(ctx, cfg, log)
	defer closeAll()

	upcoming, err := detector.UpcomingPayments(ctx, *userID, *days)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list upcoming payments")
	}

	fmt.Printf("\n=== Upcoming Payments, next %d days (%d) ===\n", *days, len(upcoming))
	for i, u := range upcoming {
		fmt.Printf("%d. %-30s %8.2f due %s (in %d days)\n",
			i+1, u.MerchantName, u.Amount, u.ExpectedDate, u.DaysUntil)
	}
	fmt.Println()
}

func runStatements(log zerolog.Logger) {
	fs := flag.NewFlagSet("statements", flag.ExitOnError)
	userID := fs.String("user-id", "", "User whose statements to list (required)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}

	cfg := loadConfig(log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	statementRepo, err := infraBQ.NewStatementRepository(ctx, cfg.BigQuery.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create statement repository")
	}
	defer statementRepo.Close()

	docs, err := statementRepo.ListUserDocuments(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list statements")
	}

	fmt.Printf("\n=== Statements (%d) ===\n", len(docs))
	for i, doc := range docs {
		fmt.Printf("\n%d. %s\n", i+1, doc.OriginalFilename)
		fmt.Printf("   ID:       %s\n", doc.DocumentID)
		fmt.Printf("   GCS URI:  %s\n", doc.GCSURI)
		fmt.Printf("   Uploaded: %s\n", doc.UploadTS.Format(time.RFC3339))
		fmt.Printf("   Status:   %s\n", doc.IngestStatus)
	}
	fmt.Println()
}
