package oracle

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/recurring"
)

// batchDetectionPrompt renders all candidate merchants into one verification
// request. The model must answer with a strict JSON array; one object per
// merchant, matched back by merchant_key.
func batchDetectionPrompt(merchants []recurring.MerchantAnalysis) string {
	var b strings.Builder

	b.WriteString("Analyze these merchants for recurring payment patterns:\n")

	for idx, m := range merchants {
		group := m.Group
		stats := m.Stats

		fmt.Fprintf(&b, "\nMerchant %d: %q (key: %s)\n", idx+1, group.MerchantName, group.MerchantKey)
		fmt.Fprintf(&b, "Category: %s\n", group.Category)
		b.WriteString("Transactions:\n")
		for i, obs := range group.Observations {
			fmt.Fprintf(&b, "   %d. %s: -$%.2f", i+1, obs.Date.Format("2006-01-02"), abs(obs.Amount))
			if obs.Note != "" {
				fmt.Fprintf(&b, " (note: %q)", obs.Note)
			}
			b.WriteString("\n")
		}

		if stats.AmountVariancePct == 0 {
			fmt.Fprintf(&b, "Stats: %d transactions, avg interval %.0f days, fixed at $%.2f\n",
				stats.Count, stats.AvgIntervalDays, stats.AmountMin)
		} else {
			fmt.Fprintf(&b, "Stats: %d transactions, avg interval %.0f days, $%.2f-$%.2f (%.0f%% variance)\n",
				stats.Count, stats.AvgIntervalDays, stats.AmountMin, stats.AmountMax, stats.AmountVariancePct)
		}
	}

	b.WriteString(`
For EACH merchant, determine:
1. Is this a recurring payment?
2. Are transactions the SAME recurring bill (based on notes/amounts)?
3. Frequency (weekly/bi-weekly/monthly/quarterly/yearly/none)
4. Is amount fixed or variable?
5. Next expected payment date
6. Confidence level

Return a JSON array with one object per merchant in order:
[
  {
    "merchant_key": "MERCHANTKEY1",
    "is_recurring": true,
    "same_transaction": true,
    "frequency": "monthly",
    "typical_amount": 10.00,
    "amount_variance": "fixed",
    "confidence": "high",
    "next_expected_date": "2025-12-15",
    "notes": "Monthly subscription"
  },
  ...
]

Return ONLY valid raw JSON.
Do NOT wrap the response in code fences.
Do NOT use ` + "```json" + ` or any Markdown.
Output must begin with "[" and end with "]".
`)

	return b.String()
}

// insightsPrompt asks the model for a cost summary, optimization suggestions,
// anomalies and upcoming-payment predictions over the user's recurring set.
func insightsPrompt(payments []domain.RecurringPattern, monthlyExpenses, monthlyIncome float64) string {
	var b strings.Builder

	b.WriteString("Analyze these recurring payments and generate insights:\n\nRecurring Payments:\n")

	for i, p := range payments {
		next := "unknown"
		if p.NextExpectedDate != nil {
			next = p.NextExpectedDate.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%d. %s: $%.2f/%s (%s) - %s - Next: %s\n",
			i+1, p.MerchantName, abs(p.TypicalAmount), p.Frequency, p.AmountVariance, p.Category, next)
	}

	fmt.Fprintf(&b, "\nFinancial Context:\n- Total Monthly Expenses: $%.2f\n- Total Monthly Income: $%.2f\n",
		monthlyExpenses, monthlyIncome)

	b.WriteString(`
Generate insights in these categories:
1. Cost Analysis: summarize total recurring costs (monthly/yearly)
2. Optimization: suggest ways to save money (bundles, unused services, etc.)
3. Anomaly Detection: flag any unusual patterns or concerns
4. Predictions: upcoming payment reminders within the next 14 days

Response format (JSON only):
{
  "summary": {
    "total_monthly": 150.00,
    "total_yearly": 1800.00,
    "count": 5,
    "percentage_of_expenses": 6.0,
    "by_category": {
      "Subscription": 50.00,
      "Utilities": 100.00
    }
  },
  "insights": [
    {
      "type": "cost_analysis",
      "title": "Monthly Recurring Costs",
      "message": "You spend $150/month on recurring payments",
      "priority": "info"
    }
  ],
  "upcoming": [
    {
      "merchant": "Netflix",
      "amount": 15.99,
      "date": "2025-12-15",
      "days_until": 9
    }
  ]
}

Use "info" for neutral observations, "suggestion" for recommendations,
"warning" for concerns.

Return ONLY valid raw JSON.
Do NOT wrap the response in code fences.
Output must begin with "{" and end with "}".
`)

	return b.String()
}
