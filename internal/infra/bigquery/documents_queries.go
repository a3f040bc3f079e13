package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const documentColumns = `
	document_id,
	user_id,
	gcs_uri,
	statement_start_date,
	statement_end_date,
	upload_ts,
	processed_ts,
	ingest_status,
	original_filename,
	file_mime_type,
	checksum_sha256`

// ListUserDocumentsWithClient retrieves the user's uploaded statements,
// newest first.
func ListUserDocumentsWithClient(ctx context.Context, client *bigquery.Client, userID string) ([]*DocumentRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s.%s
		WHERE user_id = @user_id
		ORDER BY upload_ts DESC
	`, documentColumns, datasetID, documentsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUserDocuments: reading query: %w", err)
	}

	var documents []*DocumentRow
	for {
		var row DocumentRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUserDocuments: iterating: %w", err)
		}
		documents = append(documents, &row)
	}

	return documents, nil
}

// FindDocumentByChecksumWithClient retrieves a user's document by its
// SHA-256 checksum. Returns nil when no matching document exists.
func FindDocumentByChecksumWithClient(ctx context.Context, client *bigquery.Client, userID, checksum string) (*DocumentRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s.%s
		WHERE user_id = @user_id
		  AND checksum_sha256 = @checksum
		LIMIT 1
	`, documentColumns, datasetID, documentsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "checksum", Value: checksum},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindDocumentByChecksum: reading query: %w", err)
	}

	var row DocumentRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindDocumentByChecksum: reading row: %w", err)
	}

	return &row, nil
}
