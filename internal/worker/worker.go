// Package worker dispatches background analysis jobs to the detection,
// insights and ingest services, recording each run in the analysis_runs
// provenance table.
package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/ingest"
	"github.com/dvloznov/finance-backend/internal/jobs"
	"github.com/dvloznov/finance-backend/internal/logger"
	infra "github.com/dvloznov/finance-backend/internal/infra/bigquery"
)

// DetectService runs recurring payment detection.
type DetectService interface {
	Detect(ctx context.Context, userID string, forceRefresh bool) ([]domain.RecurringPattern, error)
}

// InsightsService regenerates a user's insights snapshot.
type InsightsService interface {
	GetInsights(ctx context.Context, userID string, forceRefresh bool) (*domain.InsightsSnapshot, error)
}

// IngestService imports an uploaded statement.
type IngestService interface {
	ImportStatement(ctx context.Context, userID, documentID, analysisRunID, gcsURI string) (ingest.Result, error)
}

// RunRecorder records analysis run provenance.
type RunRecorder interface {
	Start(ctx context.Context, userID, runType string) (string, error)
	MarkFailed(ctx context.Context, analysisRunID string, runErr error)
	MarkSucceeded(ctx context.Context, analysisRunID string, itemsProcessed int) error
}

// Handler routes analysis jobs to their services.
type Handler struct {
	detector DetectService
	insights InsightsService
	importer IngestService
	runs     RunRecorder
	log      zerolog.Logger
}

// NewHandler creates a job handler. runs may be nil, in which case no
// provenance rows are written.
func NewHandler(detector DetectService, insights InsightsService, importer IngestService, runs RunRecorder, log zerolog.Logger) *Handler {
	return &Handler{
		detector: detector,
		insights: insights,
		importer: importer,
		runs:     runs,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// Handle processes one analysis job. It satisfies jobs.JobHandler.
func (h *Handler) Handle(ctx context.Context, job *jobs.AnalysisJob) error {
	ctx = logger.WithContext(ctx, h.log.With().
		Str("job_id", job.JobID).
		Str("user_id", job.UserID).
		Str("job_type", string(job.Type)).
		Logger())

	switch job.Type {
	case jobs.JobTypeDetectRecurring:
		return h.handleDetect(ctx, job)
	case jobs.JobTypeGenerateInsights:
		return h.handleInsights(ctx, job)
	case jobs.JobTypeIngestStatement:
		return h.handleIngest(ctx, job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (h *Handler) handleDetect(ctx context.Context, job *jobs.AnalysisJob) error {
	runID := h.startRun(ctx, job.UserID, infra.RunTypeDetection)

	patterns, err := h.detector.Detect(ctx, job.UserID, job.ForceRefresh)
	if err != nil {
		h.failRun(ctx, runID, err)
		return fmt.Errorf("detect recurring: %w", err)
	}

	h.finishRun(ctx, runID, len(patterns))
	h.log.Info().
		Str("job_id", job.JobID).
		Int("recurring", len(patterns)).
		Msg("Detection job completed")

	// A fresh detection run changes what insights are built from.
	if h.insights != nil {
		if _, err := h.insights.GetInsights(ctx, job.UserID, true); err != nil {
			h.log.Warn().Err(err).Str("user_id", job.UserID).
				Msg("Failed to refresh insights after detection")
		}
	}
	return nil
}

func (h *Handler) handleInsights(ctx context.Context, job *jobs.AnalysisJob) error {
	runID := h.startRun(ctx, job.UserID, infra.RunTypeInsights)

	snapshot, err := h.insights.GetInsights(ctx, job.UserID, job.ForceRefresh)
	if err != nil {
		h.failRun(ctx, runID, err)
		return fmt.Errorf("generate insights: %w", err)
	}

	h.finishRun(ctx, runID, len(snapshot.Insights))
	return nil
}

func (h *Handler) handleIngest(ctx context.Context, job *jobs.AnalysisJob) error {
	if job.DocumentID == "" || job.GCSURI == "" {
		return fmt.Errorf("ingest job %s missing document_id or gcs_uri", job.JobID)
	}

	runID := h.startRun(ctx, job.UserID, infra.RunTypeIngest)

	result, err := h.importer.ImportStatement(ctx, job.UserID, job.DocumentID, runID, job.GCSURI)
	if err != nil {
		h.failRun(ctx, runID, err)
		return fmt.Errorf("import statement: %w", err)
	}

	h.finishRun(ctx, runID, result.Imported)
	return nil
}

func (h *Handler) startRun(ctx context.Context, userID, runType string) string {
	if h.runs == nil {
		return ""
	}
	runID, err := h.runs.Start(ctx, userID, runType)
	if err != nil {
		h.log.Warn().Err(err).Str("run_type", runType).Msg("Failed to record analysis run")
		return ""
	}
	return runID
}

func (h *Handler) failRun(ctx context.Context, runID string, runErr error) {
	if h.runs == nil || runID == "" {
		return
	}
	h.runs.MarkFailed(ctx, runID, runErr)
}

func (h *Handler) finishRun(ctx context.Context, runID string, items int) {
	if h.runs == nil || runID == "" {
		return
	}
	if err := h.runs.MarkSucceeded(ctx, runID, items); err != nil {
		h.log.Warn().Err(err).Str("analysis_run_id", runID).Msg("Failed to close analysis run")
	}
}
