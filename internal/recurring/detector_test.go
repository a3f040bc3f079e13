package recurring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/domain"
)

type fakeLedger struct {
	observations []domain.Observation
	income       float64
	expense      float64
	calls        int
	err          error
	aggregateErr error
}

func (f *fakeLedger) ListExpenseObservations(_ context.Context, _ string, _ time.Time) ([]domain.Observation, error) {
	f.calls++
	return f.observations, f.err
}

func (f *fakeLedger) AggregateIncomeExpense(_ context.Context, _ string, _ time.Time) (float64, float64, error) {
	if f.aggregateErr != nil {
		return 0, 0, f.aggregateErr
	}
	return f.income, f.expense, nil
}

type fakePatternStore struct {
	records   map[string]domain.RecurringPattern
	upsertErr map[string]error
	listErr   error
}

func newFakePatternStore() *fakePatternStore {
	return &fakePatternStore{records: map[string]domain.RecurringPattern{}}
}

func storeKey(userID, merchantKey string) string {
	return userID + "|" + merchantKey
}

func (f *fakePatternStore) Get(_ context.Context, userID, merchantKey string) (*domain.RecurringPattern, error) {
	if r, ok := f.records[storeKey(userID, merchantKey)]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakePatternStore) ListRecurring(_ context.Context, userID string) ([]domain.RecurringPattern, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.RecurringPattern
	for _, r := range f.records {
		if r.UserID == userID && r.IsRecurring && r.Category != "Income" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakePatternStore) Upsert(_ context.Context, pattern *domain.RecurringPattern) error {
	if err := f.upsertErr[pattern.MerchantKey]; err != nil {
		return err
	}
	key := storeKey(pattern.UserID, pattern.MerchantKey)
	stored := *pattern
	if existing, ok := f.records[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	f.records[key] = stored
	return nil
}

type fakeVerifier struct {
	available bool
	verdicts  []Verdict
	err       error
	calls     int
}

func (f *fakeVerifier) Available() bool {
	return f.available
}

func (f *fakeVerifier) VerifyPatterns(_ context.Context, _ []MerchantAnalysis) ([]Verdict, error) {
	f.calls++
	return f.verdicts, f.err
}

func testDetector(ledger Ledger, patterns PatternStore, verifier Verifier, now time.Time) *Detector {
	d := NewDetector(ledger, patterns, verifier, zerolog.Nop())
	d.now = func() time.Time { return now }
	return d
}

func observationsAt(merchantKey string, amount float64, dates ...time.Time) []domain.Observation {
	obs := make([]domain.Observation, 0, len(dates))
	for i, date := range dates {
		obs = append(obs, domain.Observation{
			ID:          fmt.Sprintf("%s-%d", merchantKey, i),
			Date:        date,
			Amount:      -amount,
			Note:        merchantKey,
			Category:    "Entertainment",
			MerchantKey: merchantKey,
		})
	}
	return obs
}

func TestDetectCacheShortCircuit(t *testing.T) {
	store := newFakePatternStore()
	store.records[storeKey("u1", "NETFLIX")] = domain.RecurringPattern{
		UserID:      "u1",
		MerchantKey: "NETFLIX",
		IsRecurring: true,
		Category:    "Entertainment",
	}
	ledger := &fakeLedger{}
	verifier := &fakeVerifier{available: true}
	d := testDetector(ledger, store, verifier, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 || got[0].MerchantKey != "NETFLIX" {
		t.Fatalf("expected cached pattern, got %+v", got)
	}
	if verifier.calls != 0 {
		t.Errorf("expected zero oracle calls, got %d", verifier.calls)
	}
	if ledger.calls != 0 {
		t.Errorf("expected zero ledger reads, got %d", ledger.calls)
	}
}

func TestDetectForceRefreshBypassesCache(t *testing.T) {
	store := newFakePatternStore()
	store.records[storeKey("u1", "NETFLIX")] = domain.RecurringPattern{
		UserID:      "u1",
		MerchantKey: "NETFLIX",
		IsRecurring: true,
		Category:    "Entertainment",
	}
	ledger := &fakeLedger{observations: observationsAt("NETFLIX", 15.99,
		day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3))}
	verifier := &fakeVerifier{available: true, verdicts: []Verdict{{
		MerchantKey:     "NETFLIX",
		IsRecurring:     true,
		SameTransaction: true,
		Frequency:       domain.FrequencyMonthly,
		TypicalAmount:   15.99,
		AmountVariance:  domain.VarianceFixed,
		Confidence:      domain.ConfidenceHigh,
	}}}
	d := testDetector(ledger, store, verifier, day(2025, 3, 15))

	if _, err := d.Detect(context.Background(), "u1", true); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if verifier.calls != 1 {
		t.Errorf("expected one oracle call on forced refresh, got %d", verifier.calls)
	}
	if ledger.calls != 1 {
		t.Errorf("expected one ledger read, got %d", ledger.calls)
	}
}

func TestDetectAlgorithmOnlyNetflix(t *testing.T) {
	store := newFakePatternStore()
	ledger := &fakeLedger{observations: observationsAt("NETFLIX", 15.99,
		day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3))}
	d := testDetector(ledger, store, &fakeVerifier{available: false}, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one recurring pattern, got %d", len(got))
	}

	p := got[0]
	if !p.IsRecurring {
		t.Error("expected recurring verdict")
	}
	if p.Frequency != domain.FrequencyMonthly {
		t.Errorf("frequency = %q, want monthly", p.Frequency)
	}
	if p.TypicalAmount != 15.99 {
		t.Errorf("typical amount = %v, want 15.99", p.TypicalAmount)
	}
	if p.AmountVariance != domain.VarianceFixed {
		t.Errorf("variance = %q, want fixed", p.AmountVariance)
	}
	if p.Confidence != domain.ConfidenceMedium {
		t.Errorf("confidence = %q, want medium", p.Confidence)
	}
	if p.AIVerified {
		t.Error("ai_verified should be false on the algorithm-only path")
	}
	if p.NextExpectedDate == nil || !p.NextExpectedDate.Equal(day(2025, 4, 2)) {
		t.Errorf("next expected date = %v, want 2025-04-02", p.NextExpectedDate)
	}
	if p.FirstTransactionDate == nil || !p.FirstTransactionDate.Equal(day(2025, 1, 1)) {
		t.Errorf("first transaction date = %v", p.FirstTransactionDate)
	}
	if p.LastTransactionDate == nil || !p.LastTransactionDate.Equal(day(2025, 3, 3)) {
		t.Errorf("last transaction date = %v", p.LastTransactionDate)
	}
	if p.TransactionCount != 3 {
		t.Errorf("transaction count = %d, want 3", p.TransactionCount)
	}
}

func TestDetectAlgorithmOnlyWeeklyVariance(t *testing.T) {
	store := newFakePatternStore()
	start := day(2025, 2, 1)
	ledger := &fakeLedger{observations: []domain.Observation{
		{ID: "g-0", Date: start, Amount: -5.00, Note: "GYM", Category: "Health", MerchantKey: "GYM"},
		{ID: "g-1", Date: start.AddDate(0, 0, 7), Amount: -5.00, Note: "GYM", Category: "Health", MerchantKey: "GYM"},
		{ID: "g-2", Date: start.AddDate(0, 0, 14), Amount: -5.00, Note: "GYM", Category: "Health", MerchantKey: "GYM"},
		{ID: "g-3", Date: start.AddDate(0, 0, 21), Amount: -5.25, Note: "GYM", Category: "Health", MerchantKey: "GYM"},
	}}
	d := testDetector(ledger, store, nil, day(2025, 3, 1))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one recurring pattern, got %d", len(got))
	}

	p := got[0]
	if !p.IsRecurring {
		t.Error("expected recurring verdict for 5% amount spread")
	}
	if p.Frequency != domain.FrequencyWeekly {
		t.Errorf("frequency = %q, want weekly", p.Frequency)
	}
	if p.Confidence != domain.ConfidenceMedium {
		t.Errorf("confidence = %q, want medium", p.Confidence)
	}
	if p.AIVerified {
		t.Error("ai_verified should be false without oracle credentials")
	}
}

func TestDetectIrregularNotRecurringButPersisted(t *testing.T) {
	store := newFakePatternStore()
	ledger := &fakeLedger{observations: observationsAt("CORNER SHOP", 4.50,
		day(2025, 1, 3), day(2025, 1, 5), day(2025, 1, 7))}
	d := testDetector(ledger, store, nil, day(2025, 3, 1))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no recurring patterns, got %+v", got)
	}

	stored, ok := store.records[storeKey("u1", "CORNER SHOP")]
	if !ok {
		t.Fatal("non-recurring verdict should still be persisted")
	}
	if stored.IsRecurring {
		t.Error("stored verdict should be non-recurring")
	}
	if stored.Frequency != domain.FrequencyNone {
		t.Errorf("stored frequency = %q, want none", stored.Frequency)
	}
}

func TestDetectBothFlagsRequired(t *testing.T) {
	store := newFakePatternStore()
	ledger := &fakeLedger{observations: observationsAt("COFFEE", 3.50,
		day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 1))}
	verifier := &fakeVerifier{available: true, verdicts: []Verdict{{
		MerchantKey:     "COFFEE",
		IsRecurring:     true,
		SameTransaction: false,
		Frequency:       domain.FrequencyMonthly,
		Confidence:      domain.ConfidenceHigh,
	}}}
	d := testDetector(ledger, store, verifier, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("is_recurring without same_transaction must not count as recurring, got %+v", got)
	}
	if stored := store.records[storeKey("u1", "COFFEE")]; stored.IsRecurring {
		t.Error("persisted record should carry the combined non-recurring verdict")
	}
}

func TestDetectUnknownVerdictDroppedOmittedMerchantUntouched(t *testing.T) {
	store := newFakePatternStore()
	previous := domain.RecurringPattern{
		UserID:      "u1",
		MerchantKey: "SPOTIFY",
		IsRecurring: false,
		Category:    "Entertainment",
		Confidence:  domain.ConfidenceLow,
	}
	store.records[storeKey("u1", "SPOTIFY")] = previous

	observations := append(
		observationsAt("NETFLIX", 15.99, day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3)),
		observationsAt("SPOTIFY", 9.99, day(2025, 1, 5), day(2025, 2, 5), day(2025, 3, 5))...,
	)
	verifier := &fakeVerifier{available: true, verdicts: []Verdict{
		{
			MerchantKey:     "NETFLIX",
			IsRecurring:     true,
			SameTransaction: true,
			Frequency:       domain.FrequencyMonthly,
			TypicalAmount:   15.99,
			AmountVariance:  domain.VarianceFixed,
			Confidence:      domain.ConfidenceHigh,
		},
		{MerchantKey: "SOMETHING ELSE", IsRecurring: true, SameTransaction: true},
	}}
	d := testDetector(&fakeLedger{observations: observations}, store, verifier, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 || got[0].MerchantKey != "NETFLIX" {
		t.Fatalf("expected only NETFLIX, got %+v", got)
	}
	if _, ok := store.records[storeKey("u1", "SOMETHING ELSE")]; ok {
		t.Error("verdict for unknown merchant must not be persisted")
	}
	if stored := store.records[storeKey("u1", "SPOTIFY")]; stored != previous {
		t.Errorf("omitted merchant's cached verdict changed: %+v", stored)
	}
}

func TestDetectIdempotent(t *testing.T) {
	store := newFakePatternStore()
	ledger := &fakeLedger{observations: observationsAt("NETFLIX", 15.99,
		day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3))}

	d := testDetector(ledger, store, nil, day(2025, 3, 15))
	if _, err := d.Detect(context.Background(), "u1", true); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := store.records[storeKey("u1", "NETFLIX")]

	d.now = func() time.Time { return day(2025, 3, 16) }
	if _, err := d.Detect(context.Background(), "u1", true); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := store.records[storeKey("u1", "NETFLIX")]

	if second.LastAnalyzedAt.Equal(first.LastAnalyzedAt) {
		t.Error("last_analyzed_at should advance on re-analysis")
	}
	second.LastAnalyzedAt = first.LastAnalyzedAt
	if !samePattern(first, second) {
		t.Errorf("records differ beyond last_analyzed_at:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

// samePattern compares two records by value, dereferencing the date
// pointers so distinct allocations of equal dates still compare equal.
func samePattern(a, b domain.RecurringPattern) bool {
	sameDate := func(x, y *time.Time) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.Equal(*y)
	}
	if !sameDate(a.FirstTransactionDate, b.FirstTransactionDate) ||
		!sameDate(a.LastTransactionDate, b.LastTransactionDate) ||
		!sameDate(a.NextExpectedDate, b.NextExpectedDate) {
		return false
	}
	a.FirstTransactionDate, b.FirstTransactionDate = nil, nil
	a.LastTransactionDate, b.LastTransactionDate = nil, nil
	a.NextExpectedDate, b.NextExpectedDate = nil, nil
	return a == b
}

func TestDetectMinOccurrencesFilter(t *testing.T) {
	store := newFakePatternStore()
	ledger := &fakeLedger{observations: observationsAt("ONE OFF", 99.00, day(2025, 2, 1))}
	verifier := &fakeVerifier{available: true}
	d := testDetector(ledger, store, verifier, day(2025, 3, 1))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected nothing, got %+v", got)
	}
	if verifier.calls != 0 {
		t.Error("no oracle call expected when no group survives the filter")
	}
	if len(store.records) != 0 {
		t.Error("filtered-out merchants must not be persisted")
	}
}

func TestDetectOracleErrorFallsBack(t *testing.T) {
	store := newFakePatternStore()
	ledger := &fakeLedger{observations: observationsAt("NETFLIX", 15.99,
		day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3))}
	verifier := &fakeVerifier{available: true, err: errors.New("timeout")}
	d := testDetector(ledger, store, verifier, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected fallback detection to find NETFLIX, got %+v", got)
	}
	if got[0].AIVerified {
		t.Error("fallback results must not claim ai verification")
	}
}

func TestDetectUpsertFailurePartialResults(t *testing.T) {
	store := newFakePatternStore()
	store.upsertErr = map[string]error{"NETFLIX": errors.New("write conflict")}

	observations := append(
		observationsAt("NETFLIX", 15.99, day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3)),
		observationsAt("SPOTIFY", 9.99, day(2025, 1, 5), day(2025, 2, 5), day(2025, 3, 7))...,
	)
	d := testDetector(&fakeLedger{observations: observations}, store, nil, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("persistence failure must not abort the run: %v", err)
	}
	if len(got) != 1 || got[0].MerchantKey != "SPOTIFY" {
		t.Fatalf("expected partial results with SPOTIFY only, got %+v", got)
	}
}

func TestDetectExcludesIncomeCategory(t *testing.T) {
	store := newFakePatternStore()
	salary := make([]domain.Observation, 0, 3)
	for i, date := range []time.Time{day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 1)} {
		salary = append(salary, domain.Observation{
			ID: fmt.Sprintf("s-%d", i), Date: date, Amount: -2500,
			Note: "EMPLOYER", Category: "Income", MerchantKey: "EMPLOYER",
		})
	}
	d := testDetector(&fakeLedger{observations: salary}, store, nil, day(2025, 3, 15))

	got, err := d.Detect(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Income category should never appear in results, got %+v", got)
	}
	if _, ok := store.records[storeKey("u1", "EMPLOYER")]; !ok {
		t.Error("the verdict itself should still be cached")
	}
}

func TestCountCandidatesUsesStricterFloor(t *testing.T) {
	observations := append(
		observationsAt("NETFLIX", 15.99, day(2025, 1, 1), day(2025, 2, 1), day(2025, 3, 3)),
		observationsAt("SPOTIFY", 9.99, day(2025, 1, 5), day(2025, 2, 5))...,
	)
	d := testDetector(&fakeLedger{observations: observations}, newFakePatternStore(), nil, day(2025, 3, 15))

	n, err := d.CountCandidates(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CountCandidates: %v", err)
	}
	if n != 1 {
		t.Errorf("candidates = %d, want 1 (two-occurrence group excluded)", n)
	}
}

func TestUpcomingPayments(t *testing.T) {
	store := newFakePatternStore()
	for key, offset := range map[string]int{"SOON": 3, "LATER": 10, "FAR": 40} {
		next := day(2025, 3, 15).AddDate(0, 0, offset)
		store.records[storeKey("u1", key)] = domain.RecurringPattern{
			UserID:           "u1",
			MerchantKey:      key,
			MerchantName:     key,
			Category:         "Entertainment",
			IsRecurring:      true,
			TypicalAmount:    9.99,
			NextExpectedDate: &next,
		}
	}
	overdue := day(2025, 3, 10)
	store.records[storeKey("u1", "OVERDUE")] = domain.RecurringPattern{
		UserID: "u1", MerchantKey: "OVERDUE", Category: "Entertainment",
		IsRecurring: true, NextExpectedDate: &overdue,
	}

	d := testDetector(&fakeLedger{}, store, nil, day(2025, 3, 15))
	got, err := d.UpcomingPayments(context.Background(), "u1", 14)
	if err != nil {
		t.Fatalf("UpcomingPayments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 upcoming payments, got %+v", got)
	}
	if got[0].MerchantKey != "SOON" || got[1].MerchantKey != "LATER" {
		t.Errorf("expected soonest-first ordering, got %+v", got)
	}
	if got[0].DaysUntil != 3 || got[1].DaysUntil != 10 {
		t.Errorf("days_until = %d, %d; want 3, 10", got[0].DaysUntil, got[1].DaysUntil)
	}
}
