package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const insightsSnapshotsTable = "insights_snapshots"

// GetInsightsSnapshotWithClient returns the user's snapshot regardless of
// age, or nil when none exists. Staleness is the caller's concern.
func GetInsightsSnapshotWithClient(ctx context.Context, client *bigquery.Client, userID string) (*InsightsSnapshotRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT user_id, payload, analyzed_ts
		FROM %s.%s
		WHERE user_id = @user_id
		LIMIT 1
	`, datasetID, insightsSnapshotsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetInsightsSnapshot: query read: %w", err)
	}

	var r InsightsSnapshotRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetInsightsSnapshot: iter next: %w", err)
	}
	return &r, nil
}

// SaveInsightsSnapshotWithClient overwrites the user's snapshot wholesale
// with a single MERGE statement.
func SaveInsightsSnapshotWithClient(ctx context.Context, client *bigquery.Client, row *InsightsSnapshotRow) error {
	q := client.Query(fmt.Sprintf(`
		MERGE %s.%s T
		USING (SELECT @user_id AS user_id) S
		ON T.user_id = S.user_id
		WHEN MATCHED THEN UPDATE SET
			payload = @payload,
			analyzed_ts = @analyzed_ts
		WHEN NOT MATCHED THEN INSERT (user_id, payload, analyzed_ts)
		VALUES (@user_id, @payload, @analyzed_ts)
	`, datasetID, insightsSnapshotsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: row.UserID},
		{Name: "payload", Value: row.Payload},
		{Name: "analyzed_ts", Value: row.AnalyzedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("SaveInsightsSnapshot: running merge query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("SaveInsightsSnapshot: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("SaveInsightsSnapshot: job error: %w", err)
	}
	return nil
}
