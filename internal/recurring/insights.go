package recurring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/domain"
)

const (
	// snapshotStaleDays is the age beyond which a cached snapshot is
	// treated as absent.
	snapshotStaleDays = 30

	// aggregateWindowDays is the trailing window for income/expense
	// aggregates fed into insight generation.
	aggregateWindowDays = 30

	// upcomingWindowDays bounds the upcoming-payments section of
	// deterministic insights.
	upcomingWindowDays = 14

	// maxInsights caps the insights list in a snapshot.
	maxInsights = 5

	// maxUpcoming caps the upcoming-payments list in a snapshot.
	maxUpcoming = 5

	// warningExpenseShare is the recurring share of expenses, in percent,
	// above which the proportion insight escalates to a warning.
	warningExpenseShare = 20

	// notableExpenseShare is the recurring share of expenses, in percent,
	// below which no proportion insight is emitted.
	notableExpenseShare = 5
)

// InsightsGenerator builds and caches per-user insights snapshots from the
// detected recurring patterns.
type InsightsGenerator struct {
	patterns  PatternStore
	snapshots SnapshotStore
	ledger    Ledger
	oracle    InsightsOracle
	log       zerolog.Logger

	now func() time.Time
}

func NewInsightsGenerator(patterns PatternStore, snapshots SnapshotStore, ledger Ledger, oracle InsightsOracle, log zerolog.Logger) *InsightsGenerator {
	return &InsightsGenerator{
		patterns:  patterns,
		snapshots: snapshots,
		ledger:    ledger,
		oracle:    oracle,
		log:       log,
		now:       time.Now,
	}
}

// GetInsights returns the user's insights snapshot, serving a fresh cached
// copy when one exists and regenerating otherwise.
func (g *InsightsGenerator) GetInsights(ctx context.Context, userID string, forceRefresh bool) (*domain.InsightsSnapshot, error) {
	if !forceRefresh {
		cached, err := g.GetCached(ctx, userID)
		if err != nil {
			g.log.Error().Err(err).Str("user_id", userID).Msg("Failed to read insights cache")
		} else if cached != nil {
			return cached, nil
		}
	}
	return g.Generate(ctx, userID)
}

// GetCached returns the user's snapshot, or nil when none exists or the
// stored one is older than 30 days. Never regenerates.
func (g *InsightsGenerator) GetCached(ctx context.Context, userID string) (*domain.InsightsSnapshot, error) {
	snapshot, err := g.snapshots.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetCached: %w", err)
	}
	if snapshot == nil {
		return nil, nil
	}

	age := int(g.now().Sub(snapshot.AnalyzedAt).Hours() / 24)
	if age > snapshotStaleDays {
		g.log.Debug().
			Str("user_id", userID).
			Int("age_days", age).
			Msg("Cached insights snapshot is stale")
		return nil, nil
	}
	return snapshot, nil
}

// Generate builds a fresh snapshot and persists it, overwriting any prior
// one. With no recurring patterns it returns a canned empty snapshot, which
// is a normal terminal state rather than an error. The oracle is used when
// available; any oracle failure degrades to deterministic basic insights.
func (g *InsightsGenerator) Generate(ctx context.Context, userID string) (*domain.InsightsSnapshot, error) {
	patterns, err := g.patterns.ListRecurring(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Generate: list recurring patterns: %w", err)
	}

	now := g.now()
	if len(patterns) == 0 {
		snapshot := emptySnapshot(userID, now)
		g.save(ctx, snapshot)
		return snapshot, nil
	}

	since := now.AddDate(0, 0, -aggregateWindowDays)
	income, expense, err := g.ledger.AggregateIncomeExpense(ctx, userID, since)
	if err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Msg("Failed to aggregate income/expense")
		income, expense = 0, 0
	}

	var snapshot *domain.InsightsSnapshot
	if g.oracle != nil && g.oracle.Available() {
		snapshot, err = g.oracle.GenerateInsights(ctx, patterns, expense, income)
		if err != nil {
			g.log.Warn().
				Err(err).
				Str("user_id", userID).
				Msg("Oracle insights failed, using basic insights")
			snapshot = nil
		}
	}
	if snapshot == nil {
		snapshot = g.basicSnapshot(patterns, expense, now)
	}

	snapshot.UserID = userID
	snapshot.AnalyzedAt = now
	g.save(ctx, snapshot)
	return snapshot, nil
}

// save persists a snapshot. Failures are logged, not returned: the caller
// already holds the generated snapshot and the cache can be rebuilt on the
// next read.
func (g *InsightsGenerator) save(ctx context.Context, snapshot *domain.InsightsSnapshot) {
	if err := g.snapshots.Save(ctx, snapshot); err != nil {
		g.log.Error().
			Err(err).
			Str("user_id", snapshot.UserID).
			Msg("Failed to persist insights snapshot")
	}
}

func emptySnapshot(userID string, now time.Time) *domain.InsightsSnapshot {
	return &domain.InsightsSnapshot{
		UserID: userID,
		Summary: domain.InsightsSummary{
			ByCategory: map[string]float64{},
		},
		Insights: []domain.Insight{
			{
				Type:     "info",
				Title:    "No recurring payments detected",
				Message:  "Run a recurring payment analysis once you have a few months of transaction history.",
				Priority: "info",
			},
		},
		Upcoming:   []domain.UpcomingPayment{},
		AnalyzedAt: now,
	}
}

// basicSnapshot is the deterministic fallback generator.
func (g *InsightsGenerator) basicSnapshot(patterns []domain.RecurringPattern, monthlyExpenses float64, now time.Time) *domain.InsightsSnapshot {
	totalMonthly := 0.0
	byCategory := map[string]float64{}
	for _, p := range patterns {
		monthly := MonthlyEquivalent(p.TypicalAmount, p.Frequency)
		totalMonthly += monthly
		category := p.Category
		if category == "" {
			category = "Uncategorized"
		}
		byCategory[category] += monthly
	}

	summary := domain.InsightsSummary{
		TotalMonthly: totalMonthly,
		TotalYearly:  totalMonthly * 12,
		Count:        len(patterns),
		ByCategory:   byCategory,
	}
	if monthlyExpenses > 0 {
		summary.PercentageOfExpenses = totalMonthly / monthlyExpenses * 100
	}

	insights := []domain.Insight{
		{
			Type:     "cost_analysis",
			Title:    "Recurring payment costs",
			Message:  fmt.Sprintf("You have %d recurring payments totaling %.2f per month (%.2f per year).", len(patterns), totalMonthly, totalMonthly*12),
			Priority: "info",
		},
	}

	if len(byCategory) > 1 {
		topCategory, topAmount := "", 0.0
		for category, amount := range byCategory {
			if amount > topAmount || (amount == topAmount && category < topCategory) {
				topCategory, topAmount = category, amount
			}
		}
		insights = append(insights, domain.Insight{
			Type:     "category_analysis",
			Title:    fmt.Sprintf("Largest category: %s", topCategory),
			Message:  fmt.Sprintf("%s accounts for %.2f of your monthly recurring spend.", topCategory, topAmount),
			Priority: "info",
		})
	}

	if summary.PercentageOfExpenses >= notableExpenseShare {
		priority := "info"
		if summary.PercentageOfExpenses >= warningExpenseShare {
			priority = "warning"
		}
		insights = append(insights, domain.Insight{
			Type:     "expense_share",
			Title:    "Share of monthly expenses",
			Message:  fmt.Sprintf("Recurring payments make up %.1f%% of your monthly expenses.", summary.PercentageOfExpenses),
			Priority: priority,
		})
	}

	if len(insights) > maxInsights {
		insights = insights[:maxInsights]
	}

	return &domain.InsightsSnapshot{
		Summary:  summary,
		Insights: insights,
		Upcoming: upcomingFromPatterns(patterns, now),
	}
}

func upcomingFromPatterns(patterns []domain.RecurringPattern, now time.Time) []domain.UpcomingPayment {
	today := now.UTC().Truncate(24 * time.Hour)
	upcoming := make([]domain.UpcomingPayment, 0, len(patterns))
	for _, p := range patterns {
		if p.NextExpectedDate == nil {
			continue
		}
		until := daysBetween(today, *p.NextExpectedDate)
		if until < 0 || until > upcomingWindowDays {
			continue
		}
		upcoming = append(upcoming, domain.UpcomingPayment{
			MerchantKey:  p.MerchantKey,
			MerchantName: p.MerchantName,
			Amount:       p.TypicalAmount,
			ExpectedDate: p.NextExpectedDate.Format("2006-01-02"),
			DaysUntil:    until,
		})
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].DaysUntil < upcoming[j].DaysUntil
	})
	if len(upcoming) > maxUpcoming {
		upcoming = upcoming[:maxUpcoming]
	}
	return upcoming
}
