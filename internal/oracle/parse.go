package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/recurring"
)

// stripFences removes Markdown code fences the model sometimes adds despite
// being told not to.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}

// extractJSONArray locates the JSON array inside a model response that may
// wrap it in prose or code fences: everything from the first '[' to the last
// ']' is taken.
func extractJSONArray(raw string) (string, bool) {
	s := stripFences(raw)

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// extractJSONObject is the object-shaped counterpart of extractJSONArray.
func extractJSONObject(raw string) (string, bool) {
	s := stripFences(raw)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// rawVerdict mirrors the wire format of one detection result.
type rawVerdict struct {
	MerchantKey      string  `json:"merchant_key"`
	IsRecurring      bool    `json:"is_recurring"`
	SameTransaction  bool    `json:"same_transaction"`
	Frequency        string  `json:"frequency"`
	TypicalAmount    float64 `json:"typical_amount"`
	AmountVariance   string  `json:"amount_variance"`
	Confidence       string  `json:"confidence"`
	NextExpectedDate string  `json:"next_expected_date"`
	Notes            string  `json:"notes"`
}

func parseVerdicts(raw string) ([]recurring.Verdict, error) {
	var rows []rawVerdict
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("parseVerdicts: unmarshal: %w", err)
	}

	verdicts := make([]recurring.Verdict, 0, len(rows))
	for _, row := range rows {
		if row.MerchantKey == "" {
			continue
		}

		v := recurring.Verdict{
			MerchantKey:     row.MerchantKey,
			IsRecurring:     row.IsRecurring,
			SameTransaction: row.SameTransaction,
			Frequency:       normalizeFrequency(row.Frequency),
			TypicalAmount:   abs(row.TypicalAmount),
			AmountVariance:  normalizeVariance(row.AmountVariance),
			Confidence:      normalizeConfidence(row.Confidence),
			Notes:           row.Notes,
		}

		if row.NextExpectedDate != "" {
			if d, err := time.Parse("2006-01-02", row.NextExpectedDate); err == nil {
				v.NextExpectedDate = &d
			}
		}

		verdicts = append(verdicts, v)
	}

	return verdicts, nil
}

func normalizeFrequency(s string) domain.Frequency {
	switch domain.Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case domain.FrequencyWeekly:
		return domain.FrequencyWeekly
	case domain.FrequencyBiWeekly:
		return domain.FrequencyBiWeekly
	case domain.FrequencyMonthly:
		return domain.FrequencyMonthly
	case domain.FrequencyQuarterly:
		return domain.FrequencyQuarterly
	case domain.FrequencyYearly:
		return domain.FrequencyYearly
	default:
		return domain.FrequencyNone
	}
}

func normalizeVariance(s string) domain.AmountVariance {
	if domain.AmountVariance(strings.ToLower(strings.TrimSpace(s))) == domain.VarianceFixed {
		return domain.VarianceFixed
	}
	return domain.VarianceVariable
}

func normalizeConfidence(s string) domain.Confidence {
	switch domain.Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case domain.ConfidenceHigh:
		return domain.ConfidenceHigh
	case domain.ConfidenceMedium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// rawInsights mirrors the wire format of the insights response.
type rawInsights struct {
	Summary struct {
		TotalMonthly         float64            `json:"total_monthly"`
		TotalYearly          float64            `json:"total_yearly"`
		Count                int                `json:"count"`
		PercentageOfExpenses float64            `json:"percentage_of_expenses"`
		ByCategory           map[string]float64 `json:"by_category"`
	} `json:"summary"`
	Insights []struct {
		Type     string `json:"type"`
		Title    string `json:"title"`
		Message  string `json:"message"`
		Priority string `json:"priority"`
	} `json:"insights"`
	Upcoming []struct {
		Merchant  string  `json:"merchant"`
		Amount    float64 `json:"amount"`
		Date      string  `json:"date"`
		DaysUntil int     `json:"days_until"`
	} `json:"upcoming"`
}

func parseInsights(raw string) (*domain.InsightsSnapshot, error) {
	var parsed rawInsights
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parseInsights: unmarshal: %w", err)
	}

	snapshot := &domain.InsightsSnapshot{
		Summary: domain.InsightsSummary{
			TotalMonthly:         parsed.Summary.TotalMonthly,
			TotalYearly:          parsed.Summary.TotalYearly,
			Count:                parsed.Summary.Count,
			PercentageOfExpenses: parsed.Summary.PercentageOfExpenses,
			ByCategory:           parsed.Summary.ByCategory,
		},
		Insights: make([]domain.Insight, 0, len(parsed.Insights)),
		Upcoming: make([]domain.UpcomingPayment, 0, len(parsed.Upcoming)),
	}
	if snapshot.Summary.ByCategory == nil {
		snapshot.Summary.ByCategory = map[string]float64{}
	}

	for _, in := range parsed.Insights {
		snapshot.Insights = append(snapshot.Insights, domain.Insight{
			Type:     in.Type,
			Title:    in.Title,
			Message:  in.Message,
			Priority: in.Priority,
		})
	}

	for _, up := range parsed.Upcoming {
		snapshot.Upcoming = append(snapshot.Upcoming, domain.UpcomingPayment{
			MerchantName: up.Merchant,
			Amount:       up.Amount,
			ExpectedDate: up.Date,
			DaysUntil:    up.DaysUntil,
		})
	}

	return snapshot, nil
}
