package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-backend/internal/domain"
)

// ledgerObservationRow is the trimmed transaction projection consumed by
// the detection pipeline. Amounts are cast to FLOAT64 in the query.
type ledgerObservationRow struct {
	TransactionID         string              `bigquery:"transaction_id"`
	TransactionDate       civil.Date          `bigquery:"transaction_date"`
	Amount                float64             `bigquery:"amount"`
	Notes                 bigquery.NullString `bigquery:"notes"`
	RawDescription        string              `bigquery:"raw_description"`
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description"`
	CategoryName          bigquery.NullString `bigquery:"category_name"`
}

func (r *ledgerObservationRow) toDomain() domain.Observation {
	return domain.Observation{
		ID:             r.TransactionID,
		Date:           time.Date(r.TransactionDate.Year, r.TransactionDate.Month, r.TransactionDate.Day, 0, 0, 0, 0, time.UTC),
		Amount:         r.Amount,
		Note:           r.Notes.StringVal,
		RawDescription: r.RawDescription,
		Category:       r.CategoryName.StringVal,
		MerchantKey:    r.NormalizedDescription.StringVal,
	}
}

// ListExpenseObservationsWithClient returns the user's expense transactions
// (amount < 0) on or after the given date, oldest first.
func ListExpenseObservationsWithClient(ctx context.Context, client *bigquery.Client, userID string, since time.Time) ([]domain.Observation, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			transaction_date,
			CAST(amount AS FLOAT64) AS amount,
			notes,
			raw_description,
			normalized_description,
			category_name
		FROM %s.%s
		WHERE user_id = @user_id
		  AND transaction_date >= @since
		  AND amount < 0
		ORDER BY transaction_date, created_ts
	`, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "since", Value: since.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExpenseObservations: query read: %w", err)
	}

	var observations []domain.Observation
	for {
		var r ledgerObservationRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExpenseObservations: iter next: %w", err)
		}
		observations = append(observations, r.toDomain())
	}
	return observations, nil
}

// AggregateIncomeExpenseWithClient sums the user's signed amounts on or
// after the given date: income is the sum of positive amounts, expense the
// absolute sum of negative ones.
func AggregateIncomeExpenseWithClient(ctx context.Context, client *bigquery.Client, userID string, since time.Time) (income, expense float64, err error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			CAST(COALESCE(SUM(IF(amount > 0, amount, 0)), 0) AS FLOAT64) AS income,
			CAST(ABS(COALESCE(SUM(IF(amount < 0, amount, 0)), 0)) AS FLOAT64) AS expense
		FROM %s.%s
		WHERE user_id = @user_id
		  AND transaction_date >= @since
	`, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "since", Value: since.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("AggregateIncomeExpense: query read: %w", err)
	}

	var row struct {
		Income  float64 `bigquery:"income"`
		Expense float64 `bigquery:"expense"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return 0, 0, fmt.Errorf("AggregateIncomeExpense: iter next: %w", err)
	}
	return row.Income, row.Expense, nil
}
