// Package validate applies the freshness, source-count, and deviation
// rules to a reconciled AggregatedPrice, and performs conservative-pricing
// fallback when the manipulation score crosses the configured threshold.
package validate

import (
	"fmt"
	"time"

	"price-oracle/oracle/errs"
	"price-oracle/oracle/types"
)

const (
	// AggregateFreshnessMax bounds how old an AggregatedPrice may be.
	AggregateFreshnessMax = 30 * time.Second
	// PerSourceFreshnessWarn is logged-only, never a failure (quotes this
	// old have already been dropped by the reconciler's staleness filter).
	PerSourceFreshnessWarn = 60 * time.Second

	// DeviationMax is the inter-source deviation gate.
	DeviationMax = 0.05
	// SingleSourceConfidenceMax is the confidence/price ratio ceiling for
	// a single-source aggregate.
	SingleSourceConfidenceMax = 0.05

	// ManipulationThreshold triggers conservative blending above it.
	ManipulationThreshold = 0.70
	// ConservativeWeight is the fraction of the blended mark drawn from
	// the validated price (the remainder comes from the historical mean).
	ConservativeWeight = 0.8
	// ConservativeConfidenceMultiplier inflates confidence after blending.
	ConservativeConfidenceMultiplier = 1.5

	// HistoricalWindow is the default lookback for the conservative
	// pricing historical mean.
	HistoricalWindow = time.Hour
)

// HistoricalMeanFunc resolves the 1-hour historical mean mark price for a
// symbol; the validator never reaches into the history store directly.
type HistoricalMeanFunc func(symbol types.Symbol, window time.Duration) (float64, error)

// Validate applies §4.5's rules to price, in order: source-count,
// inter-source deviation, aggregate freshness, then per-source freshness
// (log-only). Returns the (possibly unchanged) price and any warnings, or
// a Kind-tagged error on the first failing rule.
func Validate(price types.AggregatedPrice, now time.Time) (types.AggregatedPrice, []string, error) {
	var warnings []string

	switch len(price.Sources) {
	case 0:
		return price, nil, errs.New(errs.KindNoSources, fmt.Errorf("aggregated price for %s has no sources", price.Symbol))
	case 1:
		q := price.Sources[0]
		if q.Price == 0 || q.Confidence/q.Price > SingleSourceConfidenceMax {
			return price, nil, errs.New(errs.KindLowSingleSourceConfidence,
				fmt.Errorf("single-source confidence ratio %.4f exceeds %.2f", q.Confidence/q.Price, SingleSourceConfidenceMax))
		}
	default:
		mean := unweightedMean(price.Sources)
		for _, q := range price.Sources {
			deviation := abs(q.Price-mean) / mean
			if deviation > DeviationMax {
				return price, nil, errs.New(errs.KindDeviationTooHigh,
					fmt.Errorf("source %s deviates %.4f from unweighted mean %.2f", q.Source, deviation, mean))
			}
		}
	}

	if now.Sub(price.Timestamp) > AggregateFreshnessMax {
		return price, nil, errs.New(errs.KindStale, fmt.Errorf("aggregated price for %s is %s old", price.Symbol, now.Sub(price.Timestamp)))
	}

	for _, q := range price.Sources {
		if q.Age(now) > PerSourceFreshnessWarn {
			warnings = append(warnings, fmt.Sprintf("source %s quote is %s old", q.Source, q.Age(now)))
		}
	}

	return price, warnings, nil
}

// ApplyConservativePricing blends price toward the historical mean when
// manipulationScore exceeds ManipulationThreshold. If the historical mean
// is unavailable, the original price is returned with a warning rather
// than failing the tick.
func ApplyConservativePricing(price types.AggregatedPrice, manipulationScore float64, meanFn HistoricalMeanFunc) (types.AggregatedPrice, []string) {
	if manipulationScore <= ManipulationThreshold {
		return price, nil
	}

	meanHist, err := meanFn(price.Symbol, HistoricalWindow)
	if err != nil {
		return price, []string{fmt.Sprintf("conservative pricing skipped: %v", err)}
	}

	blended := price
	blended.MarkPrice = ConservativeWeight*price.MarkPrice + (1-ConservativeWeight)*meanHist
	blended.Confidence = price.Confidence * ConservativeConfidenceMultiplier
	return blended, nil
}

func unweightedMean(quotes []types.Quote) float64 {
	var sum float64
	for _, q := range quotes {
		sum += q.Price
	}
	return sum / float64(len(quotes))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
