package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// TransactionRow represents one ledger transaction in finance.transactions.
// Amounts are signed NUMERIC values: negative = expense.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID string `bigquery:"user_id"` // REQUIRED

	DocumentID    string `bigquery:"document_id"`     // NULLABLE
	AnalysisRunID string `bigquery:"analysis_run_id"` // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	RawDescription        string              `bigquery:"raw_description"` // REQUIRED STRING
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description"`

	CategoryName bigquery.NullString `bigquery:"category_name"`
	Notes        bigquery.NullString `bigquery:"notes"`

	StatementLineNo bigquery.NullInt64 `bigquery:"statement_line_no"`

	Tags []string `bigquery:"tags"` // REPEATED STRING

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP)
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

// AmountFloat returns the NUMERIC amount as a float64, 0 when unset.
func (t *TransactionRow) AmountFloat() float64 {
	if t.Amount == nil {
		return 0
	}
	f, _ := t.Amount.Float64()
	return f
}
