package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const recurringPatternsTable = "recurring_patterns"

const recurringPatternColumns = `
	user_id,
	merchant_key,
	merchant_name,
	category,
	is_recurring,
	frequency,
	typical_amount,
	amount_variance,
	confidence,
	ai_verified,
	ai_notes,
	transaction_count,
	first_transaction_date,
	last_transaction_date,
	next_expected_date,
	created_ts,
	last_analyzed_ts`

// GetRecurringPatternWithClient returns the cached pattern for one
// (user, merchant), or nil when no record exists.
func GetRecurringPatternWithClient(ctx context.Context, client *bigquery.Client, userID, merchantKey string) (*RecurringPatternRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s.%s
		WHERE user_id = @user_id
		  AND merchant_key = @merchant_key
		LIMIT 1
	`, recurringPatternColumns, datasetID, recurringPatternsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "merchant_key", Value: merchantKey},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRecurringPattern: query read: %w", err)
	}

	var r RecurringPatternRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRecurringPattern: iter next: %w", err)
	}
	return &r, nil
}

// ListRecurringPatternsWithClient returns the user's patterns with
// is_recurring=true, excluding the Income category, soonest expected first.
func ListRecurringPatternsWithClient(ctx context.Context, client *bigquery.Client, userID string) ([]*RecurringPatternRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s.%s
		WHERE user_id = @user_id
		  AND is_recurring = TRUE
		  AND category != 'Income'
		ORDER BY next_expected_date NULLS LAST, merchant_key
	`, recurringPatternColumns, datasetID, recurringPatternsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecurringPatterns: query read: %w", err)
	}

	var rows []*RecurringPatternRow
	for {
		var r RecurringPatternRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecurringPatterns: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

// UpsertRecurringPatternWithClient inserts or replaces the record keyed by
// (user_id, merchant_key) in a single MERGE statement. created_ts is kept
// from the existing row on update; replaying the same verdict leaves the
// persisted state unchanged apart from last_analyzed_ts.
func UpsertRecurringPatternWithClient(ctx context.Context, client *bigquery.Client, row *RecurringPatternRow) error {
	q := client.Query(fmt.Sprintf(`
		MERGE %s.%s T
		USING (SELECT @user_id AS user_id, @merchant_key AS merchant_key) S
		ON T.user_id = S.user_id AND T.merchant_key = S.merchant_key
		WHEN MATCHED THEN UPDATE SET
			merchant_name = @merchant_name,
			category = @category,
			is_recurring = @is_recurring,
			frequency = @frequency,
			typical_amount = @typical_amount,
			amount_variance = @amount_variance,
			confidence = @confidence,
			ai_verified = @ai_verified,
			ai_notes = @ai_notes,
			transaction_count = @transaction_count,
			first_transaction_date = @first_transaction_date,
			last_transaction_date = @last_transaction_date,
			next_expected_date = @next_expected_date,
			last_analyzed_ts = @last_analyzed_ts
		WHEN NOT MATCHED THEN INSERT (
			user_id,
			merchant_key,
			merchant_name,
			category,
			is_recurring,
			frequency,
			typical_amount,
			amount_variance,
			confidence,
			ai_verified,
			ai_notes,
			transaction_count,
			first_transaction_date,
			last_transaction_date,
			next_expected_date,
			created_ts,
			last_analyzed_ts
		) VALUES (
			@user_id,
			@merchant_key,
			@merchant_name,
			@category,
			@is_recurring,
			@frequency,
			@typical_amount,
			@amount_variance,
			@confidence,
			@ai_verified,
			@ai_notes,
			@transaction_count,
			@first_transaction_date,
			@last_transaction_date,
			@next_expected_date,
			@created_ts,
			@last_analyzed_ts
		)
	`, datasetID, recurringPatternsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: row.UserID},
		{Name: "merchant_key", Value: row.MerchantKey},
		{Name: "merchant_name", Value: row.MerchantName},
		{Name: "category", Value: row.Category},
		{Name: "is_recurring", Value: row.IsRecurring},
		{Name: "frequency", Value: row.Frequency},
		{Name: "typical_amount", Value: row.TypicalAmount},
		{Name: "amount_variance", Value: row.AmountVariance},
		{Name: "confidence", Value: row.Confidence},
		{Name: "ai_verified", Value: row.AIVerified},
		{Name: "ai_notes", Value: row.AINotes},
		{Name: "transaction_count", Value: row.TransactionCount},
		{Name: "first_transaction_date", Value: row.FirstTransactionDate},
		{Name: "last_transaction_date", Value: row.LastTransactionDate},
		{Name: "next_expected_date", Value: row.NextExpectedDate},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "last_analyzed_ts", Value: row.LastAnalyzedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("UpsertRecurringPattern: running merge query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("UpsertRecurringPattern: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("UpsertRecurringPattern: job error: %w", err)
	}
	return nil
}
