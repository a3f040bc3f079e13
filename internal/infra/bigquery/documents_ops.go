package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
)

const documentsTable = "documents"

// InsertDocumentWithClient inserts a single DocumentRow into
// finance.documents using the provided BigQuery client.
func InsertDocumentWithClient(ctx context.Context, client *bigquery.Client, row *DocumentRow) error {
	inserter := client.Dataset(datasetID).Table(documentsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertDocument: inserting row: %w", err)
	}

	return nil
}

// MarkDocumentProcessedWithClient sets the document's ingest status and
// processed timestamp after an import attempt.
func MarkDocumentProcessedWithClient(ctx context.Context, client *bigquery.Client, documentID, ingestStatus string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET ingest_status = @ingest_status,
		    processed_ts = @processed_ts
		WHERE document_id = @document_id
	`, datasetID, documentsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ingest_status", Value: ingestStatus},
		{Name: "processed_ts", Value: time.Now()},
		{Name: "document_id", Value: documentID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("MarkDocumentProcessed: running update query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("MarkDocumentProcessed: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("MarkDocumentProcessed: job error: %w", err)
	}

	return nil
}
