package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/api/middleware"
	"github.com/dvloznov/finance-backend/internal/domain"
	infra "github.com/dvloznov/finance-backend/internal/infra/bigquery"
	"github.com/dvloznov/finance-backend/internal/jobs"
	"github.com/dvloznov/finance-backend/internal/jobs/inmemory"
)

type fakeRecurringService struct {
	patterns   []domain.RecurringPattern
	upcoming   []domain.UpcomingPayment
	candidates int
	detectErr  error
	forceSeen  bool
}

func (f *fakeRecurringService) Detect(_ context.Context, _ string, force bool) ([]domain.RecurringPattern, error) {
	f.forceSeen = force
	return f.patterns, f.detectErr
}

func (f *fakeRecurringService) CountCandidates(context.Context, string) (int, error) {
	return f.candidates, nil
}

func (f *fakeRecurringService) UpcomingPayments(context.Context, string, int) ([]domain.UpcomingPayment, error) {
	return f.upcoming, nil
}

type fakeInsightsService struct {
	snapshot *domain.InsightsSnapshot
	err      error
}

func (f *fakeInsightsService) GetInsights(context.Context, string, bool) (*domain.InsightsSnapshot, error) {
	return f.snapshot, f.err
}

type fakePublisher struct {
	published []*jobs.AnalysisJob
	err       error
}

func (f *fakePublisher) PublishAnalysis(_ context.Context, job *jobs.AnalysisJob) error {
	if f.err != nil {
		return f.err
	}
	job.JobID = "job-1"
	job.Status = jobs.JobStatusPending
	f.published = append(f.published, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeDocs struct {
	docs       []*infra.DocumentRow
	byChecksum *infra.DocumentRow
	inserted   []*infra.DocumentRow
}

func (f *fakeDocs) InsertDocument(_ context.Context, row *infra.DocumentRow) error {
	f.inserted = append(f.inserted, row)
	return nil
}

func (f *fakeDocs) ListUserDocuments(context.Context, string) ([]*infra.DocumentRow, error) {
	return f.docs, nil
}

func (f *fakeDocs) FindDocumentByChecksum(context.Context, string, string) (*infra.DocumentRow, error) {
	return f.byChecksum, nil
}

type fakeUploadStorage struct {
	objects map[string][]byte
}

func (f *fakeUploadStorage) UploadFile(context.Context, string, string, string) error { return nil }

func (f *fakeUploadStorage) UploadStream(_ context.Context, _, object, _ string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[object] = data
	return int64(len(data)), nil
}

func (f *fakeUploadStorage) FetchFromGCS(context.Context, string) ([]byte, error) { return nil, nil }

func (f *fakeUploadStorage) ExtractFilenameFromGCSURI(uri string) string { return uri }

func requestWithUser(method, target string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	ctx := middleware.ContextWithUserID(r.Context(), "user-1")
	return r.WithContext(ctx)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func TestGetRecurring(t *testing.T) {
	svc := &fakeRecurringService{
		patterns: []domain.RecurringPattern{
			{UserID: "user-1", MerchantKey: "NETFLIX", IsRecurring: true, TypicalAmount: 15.99, Frequency: domain.FrequencyMonthly},
			{UserID: "user-1", MerchantKey: "GYM", IsRecurring: true, TypicalAmount: 10, Frequency: domain.FrequencyWeekly},
		},
	}
	h := NewRecurringHandler(svc, &fakeInsightsService{}, &fakePublisher{}, inmemory.NewStore(), zerolog.Nop())

	w := httptest.NewRecorder()
	h.GetRecurring(w, requestWithUser(http.MethodGet, "/api/recurring?force_refresh=true", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !svc.forceSeen {
		t.Error("force_refresh=true was not passed through")
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
	wantMonthly := 15.99 + 10*4.33
	gotMonthly := body["total_monthly"].(float64)
	if diff := gotMonthly - wantMonthly; diff > 0.001 || diff < -0.001 {
		t.Errorf("total_monthly = %v, want %v", gotMonthly, wantMonthly)
	}
	gotYearly := body["total_yearly"].(float64)
	if diff := gotYearly - wantMonthly*12; diff > 0.001 || diff < -0.001 {
		t.Errorf("total_yearly = %v, want %v", gotYearly, wantMonthly*12)
	}
}

func TestGetRecurringEmptyIsArray(t *testing.T) {
	h := NewRecurringHandler(&fakeRecurringService{}, &fakeInsightsService{}, &fakePublisher{}, inmemory.NewStore(), zerolog.Nop())

	w := httptest.NewRecorder()
	h.GetRecurring(w, requestWithUser(http.MethodGet, "/api/recurring", nil))

	if got := w.Body.String(); !bytes.Contains([]byte(got), []byte(`"recurring":[]`)) {
		t.Errorf("expected empty array in body, got %s", got)
	}
}

func TestAnalyzeEnqueuesJob(t *testing.T) {
	pub := &fakePublisher{}
	svc := &fakeRecurringService{candidates: 4}
	h := NewRecurringHandler(svc, &fakeInsightsService{}, pub, inmemory.NewStore(), zerolog.Nop())

	w := httptest.NewRecorder()
	h.Analyze(w, requestWithUser(http.MethodPost, "/api/recurring/analyze", bytes.NewBufferString(`{"force_refresh":true}`)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d jobs, want 1", len(pub.published))
	}
	job := pub.published[0]
	if job.Type != jobs.JobTypeDetectRecurring || job.UserID != "user-1" || !job.ForceRefresh {
		t.Errorf("published job = %+v", job)
	}
	body := decodeBody(t, w)
	if body["merchants_to_analyze"].(float64) != 4 {
		t.Errorf("merchants_to_analyze = %v, want 4", body["merchants_to_analyze"])
	}
}

func TestAnalyzeDefaultsToForceRefresh(t *testing.T) {
	pub := &fakePublisher{}
	h := NewRecurringHandler(&fakeRecurringService{candidates: 1}, &fakeInsightsService{}, pub, inmemory.NewStore(), zerolog.Nop())

	w := httptest.NewRecorder()
	h.Analyze(w, requestWithUser(http.MethodPost, "/api/recurring/analyze", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(pub.published) != 1 || !pub.published[0].ForceRefresh {
		t.Errorf("empty body must enqueue a force-refresh job, published = %+v", pub.published)
	}

	w = httptest.NewRecorder()
	h.Analyze(w, requestWithUser(http.MethodPost, "/api/recurring/analyze", bytes.NewBufferString(`{"force_refresh":false}`)))

	if len(pub.published) != 2 || pub.published[1].ForceRefresh {
		t.Errorf("explicit opt-out must be honored, published = %+v", pub.published)
	}
}

func TestAnalyzeAlreadyRunning(t *testing.T) {
	store := inmemory.NewStore()
	active := &jobs.AnalysisJob{
		JobID:     "existing-job",
		Type:      jobs.JobTypeDetectRecurring,
		UserID:    "user-1",
		Status:    jobs.JobStatusRunning,
		CreatedAt: time.Now(),
	}
	if err := store.SaveJob(context.Background(), active); err != nil {
		t.Fatalf("seeding job store: %v", err)
	}

	pub := &fakePublisher{err: jobs.ErrAlreadyQueued}
	h := NewRecurringHandler(&fakeRecurringService{candidates: 2}, &fakeInsightsService{}, pub, store, zerolog.Nop())

	w := httptest.NewRecorder()
	h.Analyze(w, requestWithUser(http.MethodPost, "/api/recurring/analyze", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "already_running" {
		t.Errorf("status = %v, want already_running", body["status"])
	}
	if body["job_id"] != "existing-job" {
		t.Errorf("job_id = %v, want existing-job", body["job_id"])
	}
}

func TestGetInsights(t *testing.T) {
	snapshot := &domain.InsightsSnapshot{
		UserID:   "user-1",
		Insights: []domain.Insight{{Type: "info", Title: "t", Message: "m"}},
	}
	h := NewRecurringHandler(&fakeRecurringService{}, &fakeInsightsService{snapshot: snapshot}, &fakePublisher{}, inmemory.NewStore(), zerolog.Nop())

	w := httptest.NewRecorder()
	h.GetInsights(w, requestWithUser(http.MethodGet, "/api/recurring/insights", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestGetInsightsError(t *testing.T) {
	h := NewRecurringHandler(&fakeRecurringService{}, &fakeInsightsService{err: errors.New("boom")}, &fakePublisher{}, inmemory.NewStore(), zerolog.Nop())

	w := httptest.NewRecorder()
	h.GetInsights(w, requestWithUser(http.MethodGet, "/api/recurring/insights", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestGetUpcomingValidatesDays(t *testing.T) {
	h := NewRecurringHandler(&fakeRecurringService{}, &fakeInsightsService{}, &fakePublisher{}, inmemory.NewStore(), zerolog.Nop())

	for _, target := range []string{
		"/api/recurring/upcoming?days=0",
		"/api/recurring/upcoming?days=31",
		"/api/recurring/upcoming?days=abc",
	} {
		w := httptest.NewRecorder()
		h.GetUpcoming(w, requestWithUser(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.GetUpcoming(w, requestWithUser(http.MethodGet, "/api/recurring/upcoming", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("default days: status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["days"].(float64) != 7 {
		t.Errorf("default days = %v, want 7", body["days"])
	}
}

func TestUploadStatement(t *testing.T) {
	docs := &fakeDocs{}
	storage := &fakeUploadStorage{}
	pub := &fakePublisher{}
	h := NewStatementsHandler(docs, storage, pub, "test-bucket", zerolog.Nop())

	body := bytes.NewBufferString("date,description,amount\n2025-01-01,NETFLIX,-15.99\n")
	r := requestWithUser(http.MethodPost, "/api/statements/upload/doc-1?object_name=statements/x.csv&filename=jan.csv", body)
	r.Header.Set("Content-Type", "text/csv")

	w := httptest.NewRecorder()
	h.UploadStatement(w, r, "doc-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if _, ok := storage.objects["statements/x.csv"]; !ok {
		t.Error("statement bytes were not uploaded")
	}
	if len(docs.inserted) != 1 {
		t.Fatalf("inserted %d documents, want 1", len(docs.inserted))
	}
	doc := docs.inserted[0]
	if doc.UserID != "user-1" || doc.OriginalFilename != "jan.csv" || doc.IngestStatus != infra.IngestStatusUploaded {
		t.Errorf("document = %+v", doc)
	}
	if doc.ChecksumSHA256 == "" {
		t.Error("expected checksum to be recorded")
	}
	if len(pub.published) != 1 || pub.published[0].Type != jobs.JobTypeIngestStatement {
		t.Fatalf("published jobs = %+v, want one ingest job", pub.published)
	}
	if pub.published[0].DocumentID != "doc-1" {
		t.Errorf("job document id = %q, want doc-1", pub.published[0].DocumentID)
	}
}

func TestUploadStatementDuplicateChecksum(t *testing.T) {
	docs := &fakeDocs{
		byChecksum: &infra.DocumentRow{DocumentID: "doc-0", GCSURI: "gs://test-bucket/old.csv"},
	}
	pub := &fakePublisher{}
	h := NewStatementsHandler(docs, &fakeUploadStorage{}, pub, "test-bucket", zerolog.Nop())

	body := bytes.NewBufferString("date,description,amount\n2025-01-01,NETFLIX,-15.99\n")
	r := requestWithUser(http.MethodPost, "/api/statements/upload/doc-1?object_name=statements/x.csv", body)

	w := httptest.NewRecorder()
	h.UploadStatement(w, r, "doc-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "duplicate" || resp["document_id"] != "doc-0" {
		t.Errorf("response = %v, want duplicate of doc-0", resp)
	}
	if len(docs.inserted) != 0 {
		t.Error("duplicate upload must not insert a new document")
	}
	if len(pub.published) != 0 {
		t.Error("duplicate upload must not enqueue an ingest job")
	}
}

func TestUploadStatementRequiresObjectName(t *testing.T) {
	h := NewStatementsHandler(&fakeDocs{}, &fakeUploadStorage{}, &fakePublisher{}, "test-bucket", zerolog.Nop())

	w := httptest.NewRecorder()
	h.UploadStatement(w, requestWithUser(http.MethodPost, "/api/statements/upload/doc-1", nil), "doc-1")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetJobScopedToUser(t *testing.T) {
	store := inmemory.NewStore()
	_ = store.SaveJob(context.Background(), &jobs.AnalysisJob{
		JobID:  "theirs",
		Type:   jobs.JobTypeDetectRecurring,
		UserID: "user-2",
		Status: jobs.JobStatusCompleted,
	})
	_ = store.SaveJob(context.Background(), &jobs.AnalysisJob{
		JobID:  "mine",
		Type:   jobs.JobTypeDetectRecurring,
		UserID: "user-1",
		Status: jobs.JobStatusCompleted,
	})
	h := NewJobsHandler(store, zerolog.Nop())

	w := httptest.NewRecorder()
	h.GetJob(w, requestWithUser(http.MethodGet, "/api/jobs/mine", nil), "mine")
	if w.Code != http.StatusOK {
		t.Errorf("own job: status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	h.GetJob(w, requestWithUser(http.MethodGet, "/api/jobs/theirs", nil), "theirs")
	if w.Code != http.StatusNotFound {
		t.Errorf("other user's job: status = %d, want 404", w.Code)
	}
}

func TestListJobsScopedToUser(t *testing.T) {
	store := inmemory.NewStore()
	for i, userID := range []string{"user-1", "user-2", "user-1"} {
		_ = store.SaveJob(context.Background(), &jobs.AnalysisJob{
			JobID:     string(rune('a' + i)),
			Type:      jobs.JobTypeDetectRecurring,
			UserID:    userID,
			Status:    jobs.JobStatusCompleted,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	h := NewJobsHandler(store, zerolog.Nop())

	w := httptest.NewRecorder()
	h.ListJobs(w, requestWithUser(http.MethodGet, "/api/jobs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
}
