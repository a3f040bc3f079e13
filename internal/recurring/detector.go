// Package recurring detects recurring payments from transaction history and
// generates spending insights from the detected patterns.
package recurring

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/merchant"
)

const (
	// DefaultLookbackDays is the trailing window of history considered.
	DefaultLookbackDays = 180

	// DefaultMinOccurrences is the group-size floor for full detection.
	DefaultMinOccurrences = 2

	// heuristicMinOccurrences is the stricter floor used when estimating
	// how much work a background run would do.
	heuristicMinOccurrences = 3

	// varianceRecurringMax is the spread ceiling for the algorithm-only
	// recurring verdict, in percent.
	varianceRecurringMax = 20

	// varianceFixedMax is the spread ceiling below which the charged amount
	// counts as fixed, in percent.
	varianceFixedMax = 5
)

// Detector orchestrates one detection run: load, group, compute, verify,
// merge, return.
type Detector struct {
	ledger   Ledger
	patterns PatternStore
	verifier Verifier
	log      zerolog.Logger

	lookbackDays   int
	minOccurrences int
	now            func() time.Time
}

func NewDetector(ledger Ledger, patterns PatternStore, verifier Verifier, log zerolog.Logger) *Detector {
	return &Detector{
		ledger:         ledger,
		patterns:       patterns,
		verifier:       verifier,
		log:            log,
		lookbackDays:   DefaultLookbackDays,
		minOccurrences: DefaultMinOccurrences,
		now:            time.Now,
	}
}

// Detect runs the full pipeline for one user and returns the recurring
// patterns, excluding the Income category. Unless forceRefresh is set, a
// non-empty cache short-circuits the run and no recomputation happens.
//
// Per-merchant persistence failures are logged and skipped; the run
// continues and may return a partial list. Callers can retry.
func (d *Detector) Detect(ctx context.Context, userID string, forceRefresh bool) ([]domain.RecurringPattern, error) {
	if !forceRefresh {
		cached, err := d.patterns.ListRecurring(ctx, userID)
		if err != nil {
			d.log.Error().Err(err).Str("user_id", userID).Msg("Failed to read pattern cache")
		} else if len(cached) > 0 {
			d.log.Debug().
				Str("user_id", userID).
				Int("patterns", len(cached)).
				Msg("Returning cached recurring patterns")
			return cached, nil
		}
	}

	analyses, err := d.loadCandidates(ctx, userID, d.minOccurrences)
	if err != nil {
		return nil, err
	}
	if len(analyses) == 0 {
		return []domain.RecurringPattern{}, nil
	}

	verdicts, aiVerified := d.verify(ctx, analyses)

	now := d.now()
	results := make([]domain.RecurringPattern, 0, len(analyses))
	for _, a := range analyses {
		verdict, ok := verdicts[a.Group.MerchantKey]
		if !ok {
			// The oracle omitted this merchant; its previous cached
			// verdict, if any, stays untouched.
			continue
		}

		record := buildRecord(userID, a, verdict, aiVerified, now)
		if err := d.patterns.Upsert(ctx, &record); err != nil {
			d.log.Error().
				Err(err).
				Str("user_id", userID).
				Str("merchant_key", record.MerchantKey).
				Msg("Failed to upsert recurring pattern")
			continue
		}
		if record.IsRecurring && record.Category != "Income" {
			results = append(results, record)
		}
	}

	d.log.Info().
		Str("user_id", userID).
		Int("analyzed", len(analyses)).
		Int("recurring", len(results)).
		Bool("ai_verified", aiVerified).
		Msg("Detection run completed")

	return results, nil
}

// CountCandidates estimates how many merchants a detection run would
// analyze, using the stricter heuristic occurrence floor. Used by the
// background-trigger endpoint to report expected work without running the
// pipeline.
func (d *Detector) CountCandidates(ctx context.Context, userID string) (int, error) {
	analyses, err := d.loadCandidates(ctx, userID, heuristicMinOccurrences)
	if err != nil {
		return 0, err
	}
	return len(analyses), nil
}

// UpcomingPayments returns cached recurring payments expected within the
// next `days` days, soonest first.
func (d *Detector) UpcomingPayments(ctx context.Context, userID string, days int) ([]domain.UpcomingPayment, error) {
	patterns, err := d.patterns.ListRecurring(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := d.now().UTC().Truncate(24 * time.Hour)
	upcoming := make([]domain.UpcomingPayment, 0, len(patterns))
	for _, p := range patterns {
		if p.NextExpectedDate == nil {
			continue
		}
		until := daysBetween(today, *p.NextExpectedDate)
		if until < 0 || until > days {
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
	return upcoming, nil
}

// loadCandidates fetches expense observations inside the lookback window,
// groups them by merchant key, drops small groups, and computes statistics
// for the survivors. Results come back in deterministic key order.
func (d *Detector) loadCandidates(ctx context.Context, userID string, minOccurrences int) ([]MerchantAnalysis, error) {
	since := d.now().AddDate(0, 0, -d.lookbackDays)
	observations, err := d.ledger.ListExpenseObservations(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	groups := map[string]*domain.MerchantGroup{}
	for _, obs := range observations {
		key := obs.MerchantKey
		if key == "" {
			key = merchant.Normalize(obs.RawDescription)
		}

		g, ok := groups[key]
		if !ok {
			name := obs.Note
			if name == "" {
				name = obs.RawDescription
			}
			g = &domain.MerchantGroup{
				MerchantKey:  key,
				MerchantName: name,
				Category:     obs.Category,
			}
			groups[key] = g
		}
		g.Observations = append(g.Observations, obs)
	}

	keys := make([]string, 0, len(groups))
	for key, g := range groups {
		if len(g.Observations) >= minOccurrences {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	analyses := make([]MerchantAnalysis, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		analyses = append(analyses, MerchantAnalysis{
			Group: *g,
			Stats: ComputeStatistics(g.Observations),
		})
	}
	return analyses, nil
}

// verify submits all analyses to the oracle in one batch, or takes the
// algorithm-only branch when the oracle is unavailable or fails. Verdicts
// naming unknown merchant keys are dropped. The second return value reports
// whether the verdicts came from the oracle.
func (d *Detector) verify(ctx context.Context, analyses []MerchantAnalysis) (map[string]Verdict, bool) {
	known := make(map[string]bool, len(analyses))
	for _, a := range analyses {
		known[a.Group.MerchantKey] = true
	}

	if d.verifier != nil && d.verifier.Available() {
		verdicts, err := d.verifier.VerifyPatterns(ctx, analyses)
		if err != nil {
			d.log.Warn().
				Err(err).
				Int("merchants", len(analyses)).
				Msg("Oracle verification failed, using algorithm-only detection")
		} else {
			byKey := make(map[string]Verdict, len(verdicts))
			for _, v := range verdicts {
				if !known[v.MerchantKey] {
					d.log.Warn().
						Str("merchant_key", v.MerchantKey).
						Msg("Dropping verdict for unknown merchant")
					continue
				}
				byKey[v.MerchantKey] = v
			}
			return byKey, true
		}
	}

	byKey := make(map[string]Verdict, len(analyses))
	for _, a := range analyses {
		byKey[a.Group.MerchantKey] = algorithmVerdict(a)
	}
	return byKey, false
}

// algorithmVerdict is the deterministic fallback: recurring iff the average
// interval lands in a known frequency bucket, the amount spread is under 20%
// and the group has at least two observations. SameTransaction has no
// algorithmic signal and defaults to true, which may over-approve borderline
// groups.
func algorithmVerdict(a MerchantAnalysis) Verdict {
	freq := ClassifyFrequency(a.Stats.AvgIntervalDays)
	isRecurring := freq != domain.FrequencyNone &&
		a.Stats.AmountVariancePct < varianceRecurringMax &&
		a.Stats.Count >= DefaultMinOccurrences

	variance := domain.VarianceVariable
	if a.Stats.AmountVariancePct < varianceFixedMax {
		variance = domain.VarianceFixed
	}

	confidence := domain.ConfidenceLow
	if isRecurring {
		confidence = domain.ConfidenceMedium
	}

	v := Verdict{
		MerchantKey:     a.Group.MerchantKey,
		IsRecurring:     isRecurring,
		SameTransaction: true,
		Frequency:       freq,
		TypicalAmount:   a.Stats.AmountMin,
		AmountVariance:  variance,
		Confidence:      confidence,
	}
	if isRecurring {
		if last, ok := lastObservationDate(a.Group.Observations); ok {
			v.NextExpectedDate = NextExpectedDate(last, freq)
		}
	}
	return v
}

// buildRecord merges a verdict with its group and statistics into the
// persisted record. A merchant counts as recurring only when the verdict
// sets both IsRecurring and SameTransaction.
func buildRecord(userID string, a MerchantAnalysis, v Verdict, aiVerified bool, now time.Time) domain.RecurringPattern {
	record := domain.RecurringPattern{
		UserID:           userID,
		MerchantKey:      a.Group.MerchantKey,
		MerchantName:     a.Group.MerchantName,
		Category:         a.Group.Category,
		IsRecurring:      v.IsRecurring && v.SameTransaction,
		Frequency:        v.Frequency,
		TypicalAmount:    v.TypicalAmount,
		AmountVariance:   v.AmountVariance,
		Confidence:       v.Confidence,
		AIVerified:       aiVerified,
		AINotes:          v.Notes,
		TransactionCount: a.Stats.Count,
		NextExpectedDate: v.NextExpectedDate,
		CreatedAt:        now,
		LastAnalyzedAt:   now,
	}

	if record.TypicalAmount == 0 {
		record.TypicalAmount = a.Stats.AmountMin
	}

	if first, ok := firstObservationDate(a.Group.Observations); ok {
		record.FirstTransactionDate = &first
	}
	if last, ok := lastObservationDate(a.Group.Observations); ok {
		record.LastTransactionDate = &last
		if record.IsRecurring && record.NextExpectedDate == nil {
			record.NextExpectedDate = NextExpectedDate(last, record.Frequency)
		}
	}
	return record
}

func firstObservationDate(observations []domain.Observation) (time.Time, bool) {
	return extremeDate(observations, func(candidate, current time.Time) bool {
		return candidate.Before(current)
	})
}

func lastObservationDate(observations []domain.Observation) (time.Time, bool) {
	return extremeDate(observations, func(candidate, current time.Time) bool {
		return candidate.After(current)
	})
}

func extremeDate(observations []domain.Observation, better func(candidate, current time.Time) bool) (time.Time, bool) {
	if len(observations) == 0 {
		return time.Time{}, false
	}
	best := observations[0].Date
	for _, obs := range observations[1:] {
		if better(obs.Date, best) {
			best = obs.Date
		}
	}
	return best, true
}
