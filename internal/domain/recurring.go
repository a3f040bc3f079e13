package domain

import (
	"time"
)

// Frequency is the detected cadence of a recurring payment.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiWeekly  Frequency = "bi-weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	// FrequencyNone means the observed intervals do not match any known cadence.
	FrequencyNone Frequency = "none"
)

// AmountVariance is a qualitative label for how much the charged amount moves.
type AmountVariance string

const (
	VarianceFixed    AmountVariance = "fixed"
	VarianceVariable AmountVariance = "variable"
)

// Confidence is the strength of a recurring-payment verdict, either assigned
// by the verification model or defaulted by the algorithm-only path.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Observation is one ledger transaction as seen by the detection pipeline.
// Amounts are signed: negative = expense, positive = income.
type Observation struct {
	ID             string
	Date           time.Time
	Amount         float64
	Note           string
	RawDescription string
	Category       string
	MerchantKey    string
}

// MerchantGroup is a transient bundle of observations sharing a merchant key,
// built fresh on every detection run and never persisted.
type MerchantGroup struct {
	MerchantKey  string
	MerchantName string
	Category     string
	Observations []Observation
}

// RecurringPattern is the persisted per-(user, merchant) detection verdict.
type RecurringPattern struct {
	UserID       string
	MerchantKey  string
	MerchantName string
	Category     string

	IsRecurring    bool
	Frequency      Frequency
	TypicalAmount  float64
	AmountVariance AmountVariance
	Confidence     Confidence

	AIVerified bool
	AINotes    string

	TransactionCount     int
	FirstTransactionDate *time.Time
	LastTransactionDate  *time.Time
	NextExpectedDate     *time.Time

	CreatedAt      time.Time
	LastAnalyzedAt time.Time
}

// UpcomingPayment is a recurring payment expected within a look-ahead window.
type UpcomingPayment struct {
	MerchantKey  string  `json:"merchant_key"`
	MerchantName string  `json:"merchant_name"`
	Amount       float64 `json:"amount"`
	ExpectedDate string  `json:"expected_date"`
	DaysUntil    int     `json:"days_until"`
}

// Insight is one narrative observation about a user's recurring spend.
type Insight struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// InsightsSummary aggregates recurring costs for a user.
type InsightsSummary struct {
	TotalMonthly         float64            `json:"total_monthly"`
	TotalYearly          float64            `json:"total_yearly"`
	Count                int                `json:"count"`
	PercentageOfExpenses float64            `json:"percentage_of_expenses"`
	ByCategory           map[string]float64 `json:"by_category"`
}

// InsightsSnapshot is the persisted per-user insights document. Exactly one
// snapshot exists per user; regeneration overwrites it wholesale.
type InsightsSnapshot struct {
	UserID     string            `json:"-"`
	Summary    InsightsSummary   `json:"summary"`
	Insights   []Insight         `json:"insights"`
	Upcoming   []UpcomingPayment `json:"upcoming"`
	AnalyzedAt time.Time         `json:"generated_at"`
}
