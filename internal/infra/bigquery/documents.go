package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// Statement ingest statuses.
const (
	IngestStatusUploaded = "UPLOADED"
	IngestStatusImported = "IMPORTED"
	IngestStatusFailed   = "FAILED"
)

// DocumentRow represents one uploaded statement file in finance.documents.
type DocumentRow struct {
	DocumentID string `bigquery:"document_id"` // REQUIRED
	UserID     string `bigquery:"user_id"`     // REQUIRED
	GCSURI     string `bigquery:"gcs_uri"`     // REQUIRED

	StatementStartDate bigquery.NullDate `bigquery:"statement_start_date"` // NULLABLE
	StatementEndDate   bigquery.NullDate `bigquery:"statement_end_date"`   // NULLABLE

	UploadTS    time.Time              `bigquery:"upload_ts"`    // REQUIRED
	ProcessedTS bigquery.NullTimestamp `bigquery:"processed_ts"` // NULLABLE

	IngestStatus string `bigquery:"ingest_status"` // NULLABLE

	OriginalFilename string `bigquery:"original_filename"` // NULLABLE
	FileMimeType     string `bigquery:"file_mime_type"`    // NULLABLE

	ChecksumSHA256 string `bigquery:"checksum_sha256"` // NULLABLE
}
