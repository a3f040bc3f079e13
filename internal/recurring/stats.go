package recurring

import (
	"math"
	"sort"
	"time"

	"github.com/dvloznov/finance-backend/internal/domain"
)

// PatternStatistics summarizes the interval and amount behavior of one
// merchant group. It is derived on every detection run and never stored.
type PatternStatistics struct {
	Count             int
	AvgIntervalDays   float64
	AmountMin         float64
	AmountMax         float64
	AmountVariancePct float64
}

// ComputeStatistics calculates interval and amount statistics for a group of
// observations. The input order does not matter; observations are sorted by
// date internally. An empty input yields a zero-valued result, not an error.
//
// Same-day pairs are not interval samples: zero-day deltas are discarded
// before averaging, so duplicate charges on one date do not drag the average
// interval toward zero.
//
// AmountVariancePct is (max-min)/min * 100 over absolute amounts: spread
// relative to the smallest observed charge, not a population variance.
func ComputeStatistics(observations []domain.Observation) PatternStatistics {
	if len(observations) == 0 {
		return PatternStatistics{}
	}

	sorted := make([]domain.Observation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	var intervals []float64
	for i := 1; i < len(sorted); i++ {
		days := daysBetween(sorted[i-1].Date, sorted[i].Date)
		if days > 0 {
			intervals = append(intervals, float64(days))
		}
	}

	avgInterval := 0.0
	if len(intervals) > 0 {
		var sum float64
		for _, d := range intervals {
			sum += d
		}
		avgInterval = sum / float64(len(intervals))
	}

	amountMin := math.Abs(sorted[0].Amount)
	amountMax := amountMin
	for _, obs := range sorted[1:] {
		amt := math.Abs(obs.Amount)
		if amt < amountMin {
			amountMin = amt
		}
		if amt > amountMax {
			amountMax = amt
		}
	}

	variancePct := 0.0
	if amountMin > 0 {
		variancePct = (amountMax - amountMin) / amountMin * 100
	}

	return PatternStatistics{
		Count:             len(sorted),
		AvgIntervalDays:   avgInterval,
		AmountMin:         amountMin,
		AmountMax:         amountMax,
		AmountVariancePct: variancePct,
	}
}

// ClassifyFrequency maps an average interval in days onto a payment cadence.
// The buckets have deliberate gaps; anything falling between them returns
// FrequencyNone, meaning "interval irregular, no cadence assigned".
func ClassifyFrequency(avgIntervalDays float64) domain.Frequency {
	switch {
	case avgIntervalDays >= 5 && avgIntervalDays <= 9:
		return domain.FrequencyWeekly
	case avgIntervalDays >= 12 && avgIntervalDays <= 17:
		return domain.FrequencyBiWeekly
	case avgIntervalDays >= 26 && avgIntervalDays <= 35:
		return domain.FrequencyMonthly
	case avgIntervalDays >= 85 && avgIntervalDays <= 100:
		return domain.FrequencyQuarterly
	case avgIntervalDays >= 350 && avgIntervalDays <= 380:
		return domain.FrequencyYearly
	default:
		return domain.FrequencyNone
	}
}

// frequencyOffsets is the fixed day offset added to the last observed
// transaction date to predict the next one.
var frequencyOffsets = map[domain.Frequency]int{
	domain.FrequencyWeekly:    7,
	domain.FrequencyBiWeekly:  14,
	domain.FrequencyMonthly:   30,
	domain.FrequencyQuarterly: 90,
	domain.FrequencyYearly:    365,
}

// NextExpectedDate predicts the next payment date from the last observed one.
// Returns nil for FrequencyNone or any unknown frequency.
func NextExpectedDate(lastDate time.Time, frequency domain.Frequency) *time.Time {
	days, ok := frequencyOffsets[frequency]
	if !ok {
		return nil
	}
	next := lastDate.AddDate(0, 0, days)
	return &next
}

// monthlyMultipliers converts a per-cadence amount into a monthly equivalent.
var monthlyMultipliers = map[domain.Frequency]float64{
	domain.FrequencyWeekly:    4.33,
	domain.FrequencyBiWeekly:  2.17,
	domain.FrequencyMonthly:   1,
	domain.FrequencyQuarterly: 1.0 / 3,
	domain.FrequencyYearly:    1.0 / 12,
}

// MonthlyEquivalent converts an amount charged at the given frequency into
// its monthly cost. Unknown frequencies are treated as monthly.
func MonthlyEquivalent(amount float64, frequency domain.Frequency) float64 {
	mult, ok := monthlyMultipliers[frequency]
	if !ok {
		mult = 1
	}
	return amount * mult
}

// daysBetween returns whole days from a to b, ignoring the time of day.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	at := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bt := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(bt.Sub(at).Hours() / 24)
}
