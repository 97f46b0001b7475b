// Package reconcile implements the Consensus Reconciler: drops stale
// per-source quotes, computes a confidence-weighted aggregate price, and
// flags inter-source dispersion.
package reconcile

import (
	"fmt"
	"time"

	"price-oracle/oracle/errs"
	"price-oracle/oracle/types"
)

// StalenessMax is the default per-quote freshness bound.
const StalenessMax = 30 * time.Second

// DevWarn is the advisory deviation threshold against the weighted mark
// (distinct from the validation-layer deviation gate, which uses the
// unweighted mean; see package validate).
const DevWarn = 0.05

// Result is the reconciler's output for one symbol on one tick.
type Result struct {
	Price    types.AggregatedPrice
	Warnings []string
}

// Reconcile combines quotes (all for the same symbol) into one
// AggregatedPrice. All arithmetic is IEEE-754 double per the numeric
// policy in spec §4.3.
func Reconcile(symbol types.Symbol, quotes []types.Quote, now time.Time) (Result, error) {
	if len(quotes) == 0 {
		return Result{}, errs.New(errs.KindNoSources, fmt.Errorf("no quotes fetched for %s", symbol))
	}

	fresh := make([]types.Quote, 0, len(quotes))
	for _, q := range quotes {
		if now.Sub(q.Timestamp) <= StalenessMax {
			fresh = append(fresh, q)
		}
	}
	if len(fresh) == 0 {
		return Result{}, errs.New(errs.KindAllStale, fmt.Errorf("all %d quotes for %s are stale", len(quotes), symbol))
	}

	if len(fresh) == 1 {
		q := fresh[0]
		return Result{Price: types.AggregatedPrice{
			Symbol:     symbol,
			MarkPrice:  q.Price,
			IndexPrice: q.Price,
			Confidence: q.Confidence,
			Sources:    fresh,
			Timestamp:  now,
		}}, nil
	}

	var weightSum, weightedPriceSum, confSum float64
	for _, q := range fresh {
		w := 1.0 / (1.0 + q.Confidence)
		weightSum += w
		weightedPriceSum += q.Price * w
		confSum += q.Confidence
	}

	mark := weightedPriceSum / weightSum
	confidence := confSum / float64(len(fresh))

	var warnings []string
	for _, q := range fresh {
		deviation := abs(q.Price-mark) / mark
		if deviation > DevWarn {
			warnings = append(warnings, fmt.Sprintf("source %s deviates %.4f from weighted mark", q.Source, deviation))
		}
	}

	return Result{
		Price: types.AggregatedPrice{
			Symbol:     symbol,
			MarkPrice:  mark,
			IndexPrice: mark,
			Confidence: confidence,
			Sources:    fresh,
			Timestamp:  now,
		},
		Warnings: warnings,
	}, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
