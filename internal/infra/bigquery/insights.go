package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/finance-backend/internal/domain"
)

// InsightsSnapshotRow represents a cached insights snapshot in BigQuery.
// Exactly one row per user; the snapshot body is stored as serialized JSON
// since it is only ever read back whole.
type InsightsSnapshotRow struct {
	UserID     string    `bigquery:"user_id"` // REQUIRED, unique
	Payload    string    `bigquery:"payload"` // REQUIRED JSON
	AnalyzedTS time.Time `bigquery:"analyzed_ts"`
}

// NewInsightsSnapshotRow serializes a domain snapshot into its BigQuery row.
func NewInsightsSnapshotRow(s *domain.InsightsSnapshot) (*InsightsSnapshotRow, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("NewInsightsSnapshotRow: marshal payload: %w", err)
	}
	return &InsightsSnapshotRow{
		UserID:     s.UserID,
		Payload:    string(payload),
		AnalyzedTS: s.AnalyzedAt,
	}, nil
}

// ToDomain deserializes the row back into the domain snapshot.
func (r *InsightsSnapshotRow) ToDomain() (*domain.InsightsSnapshot, error) {
	var s domain.InsightsSnapshot
	if err := json.Unmarshal([]byte(r.Payload), &s); err != nil {
		return nil, fmt.Errorf("InsightsSnapshotRow.ToDomain: unmarshal payload: %w", err)
	}
	s.UserID = r.UserID
	s.AnalyzedAt = r.AnalyzedTS
	return &s, nil
}
