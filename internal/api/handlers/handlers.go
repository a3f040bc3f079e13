package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/api/middleware"
	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/gcs"
	infra "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/jobs"
	"github.com/dvloznov/finance-backend/internal/recurring"
)

const defaultUpcomingDays = 7

// RecurringService runs recurring payment detection for the API layer.
type RecurringService interface {
	Detect(ctx context.Context, userID string, forceRefresh bool) ([]domain.RecurringPattern, error)
	CountCandidates(ctx context.Context, userID string) (int, error)
	UpcomingPayments(ctx context.Context, userID string, days int) ([]domain.UpcomingPayment, error)
}

// InsightsService serves insights snapshots for the API layer.
type InsightsService interface {
	GetInsights(ctx context.Context, userID string, forceRefresh bool) (*domain.InsightsSnapshot, error)
}

// RecurringHandler handles recurring payment and insights endpoints.
type RecurringHandler struct {
	detector  RecurringService
	insights  InsightsService
	publisher jobs.Publisher
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewRecurringHandler creates a new recurring payments handler.
func NewRecurringHandler(detector RecurringService, insights InsightsService, publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *RecurringHandler {
	return &RecurringHandler{
		detector:  detector,
		insights:  insights,
		publisher: publisher,
		store:     store,
		log:       log,
	}
}

// GetRecurring handles GET /api/recurring
func (h *RecurringHandler) GetRecurring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)
	forceRefresh := parseBool(r.URL.Query().Get("force_refresh"))

	patterns, err := h.detector.Detect(ctx, userID, forceRefresh)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to detect recurring payments")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to detect recurring payments")
		return
	}

	if patterns == nil {
		patterns = []domain.RecurringPattern{}
	}
	var totalMonthly float64
	for _, p := range patterns {
		totalMonthly += recurring.MonthlyEquivalent(p.TypicalAmount, p.Frequency)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"recurring":     patterns,
		"count":         len(patterns),
		"total_monthly": totalMonthly,
		"total_yearly":  totalMonthly * 12,
	})
}

// Analyze handles POST /api/recurring/analyze
func (h *RecurringHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	// A full analysis re-evaluates cached merchants unless the caller
	// explicitly opts out.
	req := struct {
		ForceRefresh bool `json:"force_refresh"`
	}{ForceRefresh: true}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	candidates, err := h.detector.CountCandidates(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to count candidate merchants")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start analysis")
		return
	}

	job := &jobs.AnalysisJob{
		Type:         jobs.JobTypeDetectRecurring,
		UserID:       userID,
		ForceRefresh: req.ForceRefresh,
	}
	if err := h.publisher.PublishAnalysis(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrAlreadyQueued) {
			h.respondAlreadyRunning(ctx, w, userID, jobs.JobTypeDetectRecurring, candidates)
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue detection job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start analysis")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("user_id", userID).Msg("Detection job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":               job.JobID,
		"status":               string(job.Status),
		"merchants_to_analyze": candidates,
	})
}

func (h *RecurringHandler) respondAlreadyRunning(ctx context.Context, w http.ResponseWriter, userID string, jobType jobs.JobType, candidates int) {
	response := map[string]interface{}{
		"status":               "already_running",
		"merchants_to_analyze": candidates,
	}
	if active, err := h.store.FindActive(ctx, userID, jobType); err == nil && active != nil {
		response["job_id"] = active.JobID
	}
	middleware.WriteJSON(w, http.StatusOK, response)
}

// GetInsights handles GET /api/recurring/insights
func (h *RecurringHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)
	forceRefresh := parseBool(r.URL.Query().Get("force_refresh"))

	snapshot, err := h.insights.GetInsights(ctx, userID, forceRefresh)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to generate insights")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to generate insights")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, snapshot)
}

// GetUpcoming handles GET /api/recurring/upcoming
func (h *RecurringHandler) GetUpcoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	days := defaultUpcomingDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed < 1 || parsed > 30 {
			middleware.WriteError(w, http.StatusBadRequest, "days must be between 1 and 30")
			return
		}
		days = parsed
	}

	upcoming, err := h.detector.UpcomingPayments(ctx, userID, days)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list upcoming payments")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list upcoming payments")
		return
	}

	if upcoming == nil {
		upcoming = []domain.UpcomingPayment{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"upcoming": upcoming,
		"days":     days,
		"count":    len(upcoming),
	})
}

// StatementDocs is the document metadata access the statements handler needs.
type StatementDocs interface {
	InsertDocument(ctx context.Context, row *infra.DocumentRow) error
	ListUserDocuments(ctx context.Context, userID string) ([]*infra.DocumentRow, error)
	FindDocumentByChecksum(ctx context.Context, userID, checksum string) (*infra.DocumentRow, error)
}

// StatementsHandler handles statement upload endpoints.
type StatementsHandler struct {
	docs      StatementDocs
	storage   gcs.StorageService
	publisher jobs.Publisher
	bucket    string
	log       zerolog.Logger
}

// NewStatementsHandler creates a new statements handler.
func NewStatementsHandler(docs StatementDocs, storage gcs.StorageService, publisher jobs.Publisher, bucket string, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		docs:      docs,
		storage:   storage,
		publisher: publisher,
		bucket:    bucket,
		log:       log,
	}
}

// ListStatements handles GET /api/statements
func (h *StatementsHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	documents, err := h.docs.ListUserDocuments(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list statements")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}

	if documents == nil {
		documents = []*infra.DocumentRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": documents,
		"count":      len(documents),
	})
}

// CreateUploadURL handles POST /api/statements/upload-url
func (h *StatementsHandler) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Filename is required")
		return
	}

	objectName := fmt.Sprintf("statements/%s/%s", time.Now().Format("2006/01/02"), uuid.NewString()+"-"+req.Filename)
	gcsURI := fmt.Sprintf("gs://%s/%s", h.bucket, objectName)
	documentID := uuid.NewString()

	// Local development flow: the client uploads through the API instead of
	// a signed URL.
	uploadURL := fmt.Sprintf("/api/statements/upload/%s?object_name=%s&filename=%s",
		documentID, url.QueryEscape(objectName), url.QueryEscape(req.Filename))

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"upload_url":  uploadURL,
		"gcs_uri":     gcsURI,
		"object_name": objectName,
		"document_id": documentID,
	})
}

// UploadStatement handles POST /api/statements/upload/{documentID}.
// Streams the request body to object storage, records the document and
// enqueues the ingest job. A re-upload of a byte-identical file is detected
// by checksum and does not create a second document.
func (h *StatementsHandler) UploadStatement(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	objectName := r.URL.Query().Get("object_name")
	if objectName == "" {
		middleware.WriteError(w, http.StatusBadRequest, "object_name is required")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/csv"
	}

	hasher := sha256.New()
	body := io.TeeReader(r.Body, hasher)

	written, err := h.storage.UploadStream(ctx, h.bucket, objectName, contentType, body)
	if err != nil {
		h.log.Error().Err(err).Str("object", objectName).Msg("Failed to upload statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))
	gcsURI := fmt.Sprintf("gs://%s/%s", h.bucket, objectName)

	existing, err := h.docs.FindDocumentByChecksum(ctx, userID, checksum)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to check for duplicate statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save statement")
		return
	}
	if existing != nil {
		h.log.Info().
			Str("user_id", userID).
			Str("document_id", existing.DocumentID).
			Msg("Duplicate statement upload, reusing existing document")
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"document_id": existing.DocumentID,
			"gcs_uri":     existing.GCSURI,
			"status":      "duplicate",
		})
		return
	}

	doc := &infra.DocumentRow{
		DocumentID:       documentID,
		UserID:           userID,
		GCSURI:           gcsURI,
		UploadTS:         time.Now().UTC(),
		IngestStatus:     infra.IngestStatusUploaded,
		OriginalFilename: cleanFilename(r.URL.Query().Get("filename")),
		FileMimeType:     contentType,
		ChecksumSHA256:   checksum,
	}
	if err := h.docs.InsertDocument(ctx, doc); err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to insert statement metadata")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save statement")
		return
	}

	job := &jobs.AnalysisJob{
		Type:       jobs.JobTypeIngestStatement,
		UserID:     userID,
		DocumentID: documentID,
		GCSURI:     gcsURI,
	}
	if err := h.publisher.PublishAnalysis(ctx, job); err != nil && !errors.Is(err, jobs.ErrAlreadyQueued) {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to enqueue ingest job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start statement import")
		return
	}

	h.log.Info().
		Str("document_id", documentID).
		Str("gcs_uri", gcsURI).
		Int64("bytes", written).
		Str("job_id", job.JobID).
		Msg("Statement uploaded")

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"document_id": documentID,
		"gcs_uri":     gcsURI,
		"job_id":      job.JobID,
		"status":      "uploaded",
	})
}

func cleanFilename(filename string) string {
	if filename == "" {
		return "statement.csv"
	}
	if idx := strings.Index(filename, "?"); idx > 0 {
		filename = filename[:idx]
	}
	return filepath.Base(filename)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil || job.UserID != userID {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: middleware.UserID(ctx),
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}
