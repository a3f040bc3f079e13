package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-backend/internal/logger"
)

// SyncRecurringPatterns mirrors a user's recurring payments into a Notion
// database. The Merchant Key title property tracks identity: pages whose
// merchant key is no longer in the recurring set are archived, existing pages
// are updated in place and new ones are created.
func SyncRecurringPatterns(ctx context.Context, source PatternSource, notionClient NotionService, notionDBID, userID string, dryRun bool) error {
	log := logger.FromContext(ctx)

	log.Info().
		Str("user_id", userID).
		Bool("dry_run", dryRun).
		Msg("Starting recurring payments sync to Notion")

	patterns, err := source.ListRecurring(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to query recurring patterns: %w", err)
	}

	log.Info().Int("pattern_count", len(patterns)).Msg("Retrieved recurring patterns")

	validKeys := make(map[string]bool)
	for _, p := range patterns {
		validKeys[p.MerchantKey] = true
	}

	log.Info().Msg("Querying existing pages from Notion")
	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return fmt.Errorf("failed to query Notion pages: %w", err)
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	// Map of merchant key -> existing Notion page ID.
	existingPages := make(map[string]string)
	for _, page := range notionPages {
		key := extractMerchantKey(page)
		if key != "" {
			existingPages[key] = string(page.ID)
		}
	}

	// Archive pages whose merchant is no longer recurring.
	var deleted int
	for _, page := range notionPages {
		key := extractMerchantKey(page)

		if key == "" || !validKeys[key] {
			if dryRun {
				log.Info().
					Str("merchant_key", key).
					Str("page_id", string(page.ID)).
					Msg("[DRY RUN] Would archive stale Notion page")
				deleted++
				continue
			}
			if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
				log.Warn().
					Err(err).
					Str("merchant_key", key).
					Str("page_id", string(page.ID)).
					Msg("Failed to archive stale Notion page")
				continue
			}
			log.Info().
				Str("merchant_key", key).
				Str("page_id", string(page.ID)).
				Msg("Archived stale Notion page")
			deleted++
		}
	}

	var created, updated int
	for _, p := range patterns {
		pageID, exists := existingPages[p.MerchantKey]

		if dryRun {
			if exists {
				log.Info().
					Str("merchant_key", p.MerchantKey).
					Str("page_id", pageID).
					Msg("[DRY RUN] Would update Notion page")
				updated++
			} else {
				log.Info().
					Str("merchant_key", p.MerchantKey).
					Msg("[DRY RUN] Would create Notion page")
				created++
			}
			continue
		}

		props := PatternToNotionProperties(p)

		if exists {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().
					Err(err).
					Str("merchant_key", p.MerchantKey).
					Str("page_id", pageID).
					Msg("Failed to update Notion page")
				continue
			}
			log.Info().
				Str("merchant_key", p.MerchantKey).
				Str("page_id", pageID).
				Msg("Updated Notion page")
			updated++
		} else {
			page, err := notionClient.CreatePage(ctx, notionDBID, props)
			if err != nil {
				log.Warn().
					Err(err).
					Str("merchant_key", p.MerchantKey).
					Msg("Failed to create Notion page")
				continue
			}
			log.Info().
				Str("merchant_key", p.MerchantKey).
				Str("page_id", string(page.ID)).
				Msg("Created Notion page")
			created++
		}
	}

	log.Info().
		Int("deleted", deleted).
		Int("created", created).
		Int("updated", updated).
		Int("total", len(patterns)).
		Msg("Recurring payments sync completed")

	return nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractMerchantKey extracts the merchant key from a Notion page's title
// property. Returns empty string if not found.
func extractMerchantKey(page notionapi.Page) string {
	if prop, ok := page.Properties["Merchant Key"]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
