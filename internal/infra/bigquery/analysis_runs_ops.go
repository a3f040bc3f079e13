package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-backend/internal/logger"
)

const analysisRunsTable = "analysis_runs"

// StartAnalysisRunWithClient inserts a new row into finance.analysis_runs
// with status=RUNNING and returns the generated analysis_run_id.
func StartAnalysisRunWithClient(ctx context.Context, client *bigquery.Client, userID, runType string) (string, error) {
	analysisRunID := uuid.NewString()
	started := time.Now()

	q := client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			analysis_run_id,
			user_id,
			run_type,
			started_ts,
			status
		)
		VALUES (
			@analysis_run_id,
			@user_id,
			@run_type,
			@started_ts,
			@status
		)
	`, datasetID, analysisRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "analysis_run_id", Value: analysisRunID},
		{Name: "user_id", Value: userID},
		{Name: "run_type", Value: runType},
		{Name: "started_ts", Value: started},
		{Name: "status", Value: "RUNNING"},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("StartAnalysisRun: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("StartAnalysisRun: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return "", fmt.Errorf("StartAnalysisRun: job error: %w", err)
	}

	return analysisRunID, nil
}

// MarkAnalysisRunFailedWithClient sets status=FAILED, finished_ts and
// error_message. Failures here are logged, not returned: run bookkeeping
// must never mask the original error.
func MarkAnalysisRunFailedWithClient(ctx context.Context, client *bigquery.Client, analysisRunID string, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		const maxLen = 2000
		if len(errMsg) > maxLen {
			errMsg = errMsg[:maxLen]
		}
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE analysis_run_id = @analysis_run_id
	`, datasetID, analysisRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: "FAILED"},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "analysis_run_id", Value: analysisRunID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("analysis_run_id", analysisRunID).
			Msg("MarkAnalysisRunFailed: running update query")
		return
	}

	status, err := job.Wait(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("analysis_run_id", analysisRunID).
			Msg("MarkAnalysisRunFailed: waiting for job")
		return
	}
	if err := status.Err(); err != nil {
		log.Error().
			Err(err).
			Str("analysis_run_id", analysisRunID).
			Msg("MarkAnalysisRunFailed: job completed with error")
	}
}

// MarkAnalysisRunSucceededWithClient sets status=SUCCESS, finished_ts and
// the processed-item count, clearing error_message.
func MarkAnalysisRunSucceededWithClient(ctx context.Context, client *bigquery.Client, analysisRunID string, itemsProcessed int) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    items_processed = @items_processed,
		    error_message = ""
		WHERE analysis_run_id = @analysis_run_id
	`, datasetID, analysisRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: "SUCCESS"},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "items_processed", Value: int64(itemsProcessed)},
		{Name: "analysis_run_id", Value: analysisRunID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("MarkAnalysisRunSucceeded: running update query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("MarkAnalysisRunSucceeded: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("MarkAnalysisRunSucceeded: job error: %w", err)
	}

	return nil
}
