package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

// InsertTransactionsWithClient inserts a batch of TransactionRow into
// finance.transactions using the provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := client.Dataset(datasetID).Table(transactionsTable)
	inserter := table.Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}

	return nil
}

// ListRecentTransactionsWithClient returns the user's transactions on or
// after the given date, oldest first. Used by the ingest pipeline to detect
// duplicates of already-imported statement lines.
func ListRecentTransactionsWithClient(ctx context.Context, client *bigquery.Client, userID string, since time.Time) ([]*TransactionRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			transaction_id,
			user_id,
			document_id,
			analysis_run_id,
			transaction_date,
			amount,
			currency,
			raw_description,
			normalized_description,
			category_name,
			notes,
			statement_line_no,
			tags,
			created_ts,
			updated_ts
		FROM %s.%s
		WHERE user_id = @user_id
		  AND transaction_date >= @since
		ORDER BY transaction_date, created_ts
	`, datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "since", Value: since.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentTransactions: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentTransactions: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}
