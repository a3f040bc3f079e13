package recurring

import (
	"context"
	"time"

	"github.com/dvloznov/finance-backend/internal/domain"
)

// MerchantAnalysis bundles one merchant group with its computed statistics,
// ready for verification.
type MerchantAnalysis struct {
	Group domain.MerchantGroup
	Stats PatternStatistics
}

// Verdict is one merchant's verification result. A merchant counts as
// recurring only when both IsRecurring and SameTransaction are true;
// IsRecurring alone can be a coincidence of similar one-off charges.
type Verdict struct {
	MerchantKey      string
	IsRecurring      bool
	SameTransaction  bool
	Frequency        domain.Frequency
	TypicalAmount    float64
	AmountVariance   domain.AmountVariance
	Confidence       domain.Confidence
	NextExpectedDate *time.Time
	Notes            string
}

// Verifier submits merchant analyses to an external verification service.
// Implementations must be stateless between calls; caching verdicts is the
// detector's job, not the verifier's.
type Verifier interface {
	// Available reports whether the verifier is configured. When false the
	// detector takes the algorithm-only path without calling VerifyPatterns.
	Available() bool

	// VerifyPatterns submits all merchants in one batched call. The returned
	// verdicts may be fewer than the inputs or differently ordered; callers
	// match them back by MerchantKey.
	VerifyPatterns(ctx context.Context, merchants []MerchantAnalysis) ([]Verdict, error)
}

// InsightsOracle generates narrative insights from recurring payments.
type InsightsOracle interface {
	Available() bool

	// GenerateInsights returns a full snapshot, or an error when the service
	// is unreachable or its response cannot be parsed; callers fall back to
	// deterministic basic insights.
	GenerateInsights(ctx context.Context, payments []domain.RecurringPattern, monthlyExpenses, monthlyIncome float64) (*domain.InsightsSnapshot, error)
}

// PatternStore is the persisted per-(user, merchant) verdict cache.
type PatternStore interface {
	// Get returns the cached pattern for one merchant, or nil when absent.
	Get(ctx context.Context, userID, merchantKey string) (*domain.RecurringPattern, error)

	// ListRecurring returns patterns with is_recurring=true, excluding the
	// Income category.
	ListRecurring(ctx context.Context, userID string) ([]domain.RecurringPattern, error)

	// Upsert inserts or replaces the record keyed by (user_id, merchant_key),
	// always refreshing last_analyzed_at. Replaying the same verdict must
	// produce the same persisted state.
	Upsert(ctx context.Context, pattern *domain.RecurringPattern) error
}

// SnapshotStore persists at most one insights snapshot per user.
type SnapshotStore interface {
	// Get returns the user's snapshot regardless of age, or nil when absent.
	Get(ctx context.Context, userID string) (*domain.InsightsSnapshot, error)

	// Save overwrites the user's snapshot wholesale.
	Save(ctx context.Context, snapshot *domain.InsightsSnapshot) error
}

// Ledger is the transaction query surface the pipeline reads from. Amounts
// are signed: negative = expense.
type Ledger interface {
	ListExpenseObservations(ctx context.Context, userID string, since time.Time) ([]domain.Observation, error)

	// AggregateIncomeExpense sums signed amounts since the given date.
	// Income is the sum of positive amounts; expense the absolute sum of
	// negative ones.
	AggregateIncomeExpense(ctx context.Context, userID string, since time.Time) (income, expense float64, err error)
}
