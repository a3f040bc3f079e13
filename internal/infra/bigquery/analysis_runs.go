package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// Analysis run types.
const (
	RunTypeDetection = "RECURRING_DETECTION"
	RunTypeInsights  = "INSIGHTS_GENERATION"
	RunTypeIngest    = "STATEMENT_INGEST"
)

// AnalysisRunRow records provenance for one background analysis run.
type AnalysisRunRow struct {
	AnalysisRunID string `bigquery:"analysis_run_id"`
	UserID        string `bigquery:"user_id"`
	RunType       string `bigquery:"run_type"`

	StartedTS  time.Time              `bigquery:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`

	Status       string `bigquery:"status"`
	ErrorMessage string `bigquery:"error_message"`

	ItemsProcessed bigquery.NullInt64 `bigquery:"items_processed"`
}
