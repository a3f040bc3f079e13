package ingest

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/civil"
	bq "cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/gcs"
	infra "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/merchant"
)

const (
	// Two statement lines are duplicates when their descriptions are at
	// least this similar, the amounts match and the dates are at most one
	// day apart. Catches re-uploads of overlapping statement periods where
	// banks render the same transaction slightly differently.
	duplicateSimilarityMin = 0.85
	duplicateDateSlackDays = 1

	defaultCurrency = "GBP"
)

// StatementStore is the ledger access the importer needs.
type StatementStore interface {
	InsertTransactions(ctx context.Context, rows []*infra.TransactionRow) error
	ListRecentTransactions(ctx context.Context, userID string, since time.Time) ([]*infra.TransactionRow, error)
	MarkDocumentProcessed(ctx context.Context, documentID, ingestStatus string) error
}

// Result summarizes one statement import.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer turns uploaded statement documents into ledger transactions.
type Importer struct {
	store   StatementStore
	storage gcs.StorageService
	log     zerolog.Logger

	now func() time.Time
}

// NewImporter creates an Importer backed by the given store and object storage.
func NewImporter(store StatementStore, storage gcs.StorageService, log zerolog.Logger) *Importer {
	return &Importer{
		store:   store,
		storage: storage,
		log:     log.With().Str("component", "ingest").Logger(),
		now:     time.Now,
	}
}

// ImportStatement downloads the statement at gcsURI, parses it and inserts
// the non-duplicate lines as transactions attributed to documentID. The
// document's ingest status is updated to imported on success and failed on
// any error after the download started.
func (im *Importer) ImportStatement(ctx context.Context, userID, documentID, analysisRunID, gcsURI string) (Result, error) {
	data, err := im.storage.FetchFromGCS(ctx, gcsURI)
	if err != nil {
		return Result{}, fmt.Errorf("ImportStatement: fetching %s: %w", gcsURI, err)
	}

	result, err := im.importBytes(ctx, userID, documentID, analysisRunID, data)
	if err != nil {
		if markErr := im.store.MarkDocumentProcessed(ctx, documentID, infra.IngestStatusFailed); markErr != nil {
			im.log.Error().Err(markErr).Str("document_id", documentID).
				Msg("failed to mark document as failed")
		}
		return Result{}, err
	}

	if err := im.store.MarkDocumentProcessed(ctx, documentID, infra.IngestStatusImported); err != nil {
		return Result{}, fmt.Errorf("ImportStatement: marking document imported: %w", err)
	}

	im.log.Info().
		Str("user_id", userID).
		Str("document_id", documentID).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("statement imported")
	return result, nil
}

func (im *Importer) importBytes(ctx context.Context, userID, documentID, analysisRunID string, data []byte) (Result, error) {
	lines, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("ImportStatement: %w", err)
	}

	since := earliestDate(lines).AddDate(0, 0, -duplicateDateSlackDays)
	existing, err := im.store.ListRecentTransactions(ctx, userID, since)
	if err != nil {
		return Result{}, fmt.Errorf("ImportStatement: listing existing transactions: %w", err)
	}

	now := im.now().UTC()
	var rows []*infra.TransactionRow
	skipped := 0
	for _, line := range lines {
		if isDuplicate(line, existing) {
			skipped++
			continue
		}
		rows = append(rows, rowFromLine(line, userID, documentID, analysisRunID, now))
	}

	if err := im.store.InsertTransactions(ctx, rows); err != nil {
		return Result{}, fmt.Errorf("ImportStatement: inserting transactions: %w", err)
	}

	return Result{Imported: len(rows), Skipped: skipped}, nil
}

// isDuplicate reports whether the parsed line matches an already-imported
// transaction closely enough to be the same payment seen twice.
func isDuplicate(line StatementLine, existing []*infra.TransactionRow) bool {
	for _, tx := range existing {
		if math.Abs(tx.AmountFloat()-line.AmountFloat()) > 0.004 {
			continue
		}
		if dayDistance(tx.TransactionDate, line.Date) > duplicateDateSlackDays {
			continue
		}
		if merchant.Similarity(line.Description, tx.RawDescription) >= duplicateSimilarityMin {
			return true
		}
	}
	return false
}

func rowFromLine(line StatementLine, userID, documentID, analysisRunID string, now time.Time) *infra.TransactionRow {
	row := &infra.TransactionRow{
		TransactionID:         uuid.NewString(),
		UserID:                userID,
		DocumentID:            documentID,
		AnalysisRunID:         analysisRunID,
		TransactionDate:       civil.DateOf(line.Date),
		Amount:                line.Amount,
		Currency:              defaultCurrency,
		RawDescription:        line.Description,
		NormalizedDescription: bq.NullString{StringVal: merchant.Normalize(line.Description), Valid: true},
		StatementLineNo:       bq.NullInt64{Int64: int64(line.LineNo), Valid: true},
		CreatedTS:             now,
	}
	if line.Category != "" {
		row.CategoryName = bq.NullString{StringVal: line.Category, Valid: true}
	}
	if line.Notes != "" {
		row.Notes = bq.NullString{StringVal: line.Notes, Valid: true}
	}
	return row
}

func earliestDate(lines []StatementLine) time.Time {
	earliest := lines[0].Date
	for _, l := range lines[1:] {
		if l.Date.Before(earliest) {
			earliest = l.Date
		}
	}
	return earliest
}

func dayDistance(d civil.Date, t time.Time) int {
	a := d.In(time.UTC)
	diff := a.Sub(t.UTC()).Hours() / 24
	if diff < 0 {
		diff = -diff
	}
	return int(diff)
}
