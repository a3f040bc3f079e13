package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-backend/internal/domain"
)

// RecurringPatternRow represents a recurring pattern record in BigQuery.
// Uniquely keyed by (user_id, merchant_key).
type RecurringPatternRow struct {
	UserID       string `bigquery:"user_id"`      // REQUIRED
	MerchantKey  string `bigquery:"merchant_key"` // REQUIRED
	MerchantName string `bigquery:"merchant_name"`
	Category     string `bigquery:"category"`

	IsRecurring    bool    `bigquery:"is_recurring"`
	Frequency      string  `bigquery:"frequency"`
	TypicalAmount  float64 `bigquery:"typical_amount"`
	AmountVariance string  `bigquery:"amount_variance"`
	Confidence     string  `bigquery:"confidence"`

	AIVerified bool                `bigquery:"ai_verified"`
	AINotes    bigquery.NullString `bigquery:"ai_notes"`

	TransactionCount     int64             `bigquery:"transaction_count"`
	FirstTransactionDate bigquery.NullDate `bigquery:"first_transaction_date"`
	LastTransactionDate  bigquery.NullDate `bigquery:"last_transaction_date"`
	NextExpectedDate     bigquery.NullDate `bigquery:"next_expected_date"`

	CreatedTS      time.Time `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP)
	LastAnalyzedTS time.Time `bigquery:"last_analyzed_ts"`
}

// NewRecurringPatternRow converts a domain pattern into its BigQuery row.
func NewRecurringPatternRow(p *domain.RecurringPattern) *RecurringPatternRow {
	row := &RecurringPatternRow{
		UserID:           p.UserID,
		MerchantKey:      p.MerchantKey,
		MerchantName:     p.MerchantName,
		Category:         p.Category,
		IsRecurring:      p.IsRecurring,
		Frequency:        string(p.Frequency),
		TypicalAmount:    p.TypicalAmount,
		AmountVariance:   string(p.AmountVariance),
		Confidence:       string(p.Confidence),
		AIVerified:       p.AIVerified,
		TransactionCount: int64(p.TransactionCount),
		CreatedTS:        p.CreatedAt,
		LastAnalyzedTS:   p.LastAnalyzedAt,
	}
	if p.AINotes != "" {
		row.AINotes = bigquery.NullString{StringVal: p.AINotes, Valid: true}
	}
	row.FirstTransactionDate = nullDate(p.FirstTransactionDate)
	row.LastTransactionDate = nullDate(p.LastTransactionDate)
	row.NextExpectedDate = nullDate(p.NextExpectedDate)
	return row
}

// ToDomain converts the row back into the domain representation.
func (r *RecurringPatternRow) ToDomain() domain.RecurringPattern {
	return domain.RecurringPattern{
		UserID:               r.UserID,
		MerchantKey:          r.MerchantKey,
		MerchantName:         r.MerchantName,
		Category:             r.Category,
		IsRecurring:          r.IsRecurring,
		Frequency:            domain.Frequency(r.Frequency),
		TypicalAmount:        r.TypicalAmount,
		AmountVariance:       domain.AmountVariance(r.AmountVariance),
		Confidence:           domain.Confidence(r.Confidence),
		AIVerified:           r.AIVerified,
		AINotes:              r.AINotes.StringVal,
		TransactionCount:     int(r.TransactionCount),
		FirstTransactionDate: dateValue(r.FirstTransactionDate),
		LastTransactionDate:  dateValue(r.LastTransactionDate),
		NextExpectedDate:     dateValue(r.NextExpectedDate),
		CreatedAt:            r.CreatedTS,
		LastAnalyzedAt:       r.LastAnalyzedTS,
	}
}

func nullDate(t *time.Time) bigquery.NullDate {
	if t == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t.UTC()), Valid: true}
}

func dateValue(d bigquery.NullDate) *time.Time {
	if !d.Valid {
		return nil
	}
	t := time.Date(d.Date.Year, d.Date.Month, d.Date.Day, 0, 0, 0, 0, time.UTC)
	return &t
}
