// Package bigquery holds the BigQuery-backed persistence layer: row types,
// query operations and the repository implementations consumed by the
// detection and ingest pipelines.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/recurring"
)

const (
	datasetID  = "finance"
	dateFormat = "2006-01-02"
)

// PatternRepository is the BigQuery implementation of
// recurring.PatternStore. It holds its own client so concurrent background
// jobs never share a connection.
type PatternRepository struct {
	client *bigquery.Client
}

func NewPatternRepository(ctx context.Context, projectID string) (*PatternRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewPatternRepository: creating client: %w", err)
	}
	return &PatternRepository{client: client}, nil
}

// Close closes the BigQuery client connection.
func (r *PatternRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *PatternRepository) Get(ctx context.Context, userID, merchantKey string) (*domain.RecurringPattern, error) {
	row, err := GetRecurringPatternWithClient(ctx, r.client, userID, merchantKey)
	if err != nil || row == nil {
		return nil, err
	}
	pattern := row.ToDomain()
	return &pattern, nil
}

func (r *PatternRepository) ListRecurring(ctx context.Context, userID string) ([]domain.RecurringPattern, error) {
	rows, err := ListRecurringPatternsWithClient(ctx, r.client, userID)
	if err != nil {
		return nil, err
	}
	patterns := make([]domain.RecurringPattern, 0, len(rows))
	for _, row := range rows {
		patterns = append(patterns, row.ToDomain())
	}
	return patterns, nil
}

func (r *PatternRepository) Upsert(ctx context.Context, pattern *domain.RecurringPattern) error {
	return UpsertRecurringPatternWithClient(ctx, r.client, NewRecurringPatternRow(pattern))
}

// InsightsRepository is the BigQuery implementation of
// recurring.SnapshotStore.
type InsightsRepository struct {
	client *bigquery.Client
}

func NewInsightsRepository(ctx context.Context, projectID string) (*InsightsRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewInsightsRepository: creating client: %w", err)
	}
	return &InsightsRepository{client: client}, nil
}

// Close closes the BigQuery client connection.
func (r *InsightsRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *InsightsRepository) Get(ctx context.Context, userID string) (*domain.InsightsSnapshot, error) {
	row, err := GetInsightsSnapshotWithClient(ctx, r.client, userID)
	if err != nil || row == nil {
		return nil, err
	}
	return row.ToDomain()
}

func (r *InsightsRepository) Save(ctx context.Context, snapshot *domain.InsightsSnapshot) error {
	row, err := NewInsightsSnapshotRow(snapshot)
	if err != nil {
		return err
	}
	return SaveInsightsSnapshotWithClient(ctx, r.client, row)
}

// LedgerRepository is the BigQuery implementation of recurring.Ledger.
type LedgerRepository struct {
	client *bigquery.Client
}

func NewLedgerRepository(ctx context.Context, projectID string) (*LedgerRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewLedgerRepository: creating client: %w", err)
	}
	return &LedgerRepository{client: client}, nil
}

// Close closes the BigQuery client connection.
func (r *LedgerRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *LedgerRepository) ListExpenseObservations(ctx context.Context, userID string, since time.Time) ([]domain.Observation, error) {
	return ListExpenseObservationsWithClient(ctx, r.client, userID, since)
}

func (r *LedgerRepository) AggregateIncomeExpense(ctx context.Context, userID string, since time.Time) (income, expense float64, err error) {
	return AggregateIncomeExpenseWithClient(ctx, r.client, userID, since)
}

// AnalysisRunRepository records provenance rows for background runs.
type AnalysisRunRepository struct {
	client *bigquery.Client
}

func NewAnalysisRunRepository(ctx context.Context, projectID string) (*AnalysisRunRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewAnalysisRunRepository: creating client: %w", err)
	}
	return &AnalysisRunRepository{client: client}, nil
}

// Close closes the BigQuery client connection.
func (r *AnalysisRunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *AnalysisRunRepository) Start(ctx context.Context, userID, runType string) (string, error) {
	return StartAnalysisRunWithClient(ctx, r.client, userID, runType)
}

func (r *AnalysisRunRepository) MarkFailed(ctx context.Context, analysisRunID string, runErr error) {
	MarkAnalysisRunFailedWithClient(ctx, r.client, analysisRunID, runErr)
}

func (r *AnalysisRunRepository) MarkSucceeded(ctx context.Context, analysisRunID string, itemsProcessed int) error {
	return MarkAnalysisRunSucceededWithClient(ctx, r.client, analysisRunID, itemsProcessed)
}

// StatementRepository persists uploaded statement documents and their
// imported transactions for the ingest pipeline.
type StatementRepository struct {
	client *bigquery.Client
}

func NewStatementRepository(ctx context.Context, projectID string) (*StatementRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStatementRepository: creating client: %w", err)
	}
	return &StatementRepository{client: client}, nil
}

// Close closes the BigQuery client connection.
func (r *StatementRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *StatementRepository) InsertDocument(ctx context.Context, row *DocumentRow) error {
	return InsertDocumentWithClient(ctx, r.client, row)
}

func (r *StatementRepository) MarkDocumentProcessed(ctx context.Context, documentID, ingestStatus string) error {
	return MarkDocumentProcessedWithClient(ctx, r.client, documentID, ingestStatus)
}

func (r *StatementRepository) ListUserDocuments(ctx context.Context, userID string) ([]*DocumentRow, error) {
	return ListUserDocumentsWithClient(ctx, r.client, userID)
}

func (r *StatementRepository) FindDocumentByChecksum(ctx context.Context, userID, checksum string) (*DocumentRow, error) {
	return FindDocumentByChecksumWithClient(ctx, r.client, userID, checksum)
}

func (r *StatementRepository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	return InsertTransactionsWithClient(ctx, r.client, rows)
}

func (r *StatementRepository) ListRecentTransactions(ctx context.Context, userID string, since time.Time) ([]*TransactionRow, error) {
	return ListRecentTransactionsWithClient(ctx, r.client, userID, since)
}

// Interface conformance checks.
var (
	_ recurring.PatternStore  = (*PatternRepository)(nil)
	_ recurring.SnapshotStore = (*InsightsRepository)(nil)
	_ recurring.Ledger        = (*LedgerRepository)(nil)
)
