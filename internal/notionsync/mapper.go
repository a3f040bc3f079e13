package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-backend/internal/domain"
)

// PatternToNotionProperties converts a recurring payment pattern to Notion
// properties. Maps fields according to the NOTION_SETUP.md specification for
// the Recurring Payments database.
func PatternToNotionProperties(p domain.RecurringPattern) notionapi.Properties {
	props := notionapi.Properties{
		"Merchant Key": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: p.MerchantKey,
					},
				},
			},
		},
		"Typical Amount": notionapi.NumberProperty{
			Number: p.TypicalAmount,
		},
		"Transactions": notionapi.NumberProperty{
			Number: float64(p.TransactionCount),
		},
		"AI Verified": notionapi.CheckboxProperty{
			Checkbox: p.AIVerified,
		},
	}

	// Merchant Name
	if p.MerchantName != "" {
		props["Merchant"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: p.MerchantName,
					},
				},
			},
		}
	}

	// Category
	if p.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: p.Category,
			},
		}
	}

	// Frequency
	if p.Frequency != "" && p.Frequency != domain.FrequencyNone {
		props["Frequency"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(p.Frequency),
			},
		}
	}

	// Amount Variance
	if p.AmountVariance != "" {
		props["Variance"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(p.AmountVariance),
			},
		}
	}

	// Confidence
	if p.Confidence != "" {
		props["Confidence"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(p.Confidence),
			},
		}
	}

	// Next Expected Date
	if p.NextExpectedDate != nil {
		props["Next Expected"] = dateProperty(*p.NextExpectedDate)
	}

	// Last Transaction Date
	if p.LastTransactionDate != nil {
		props["Last Seen"] = dateProperty(*p.LastTransactionDate)
	}

	// Last Analyzed
	if !p.LastAnalyzedAt.IsZero() {
		props["Last Analyzed"] = dateProperty(p.LastAnalyzedAt)
	}

	// AI Notes
	if p.AINotes != "" {
		props["Notes"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: p.AINotes,
					},
				},
			},
		}
	}

	return props
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: &d,
		},
	}
}
