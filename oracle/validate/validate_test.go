package validate

import (
	"fmt"
	"testing"
	"time"

	"price-oracle/oracle/errs"
	"price-oracle/oracle/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agg(symbol types.Symbol, mark float64, sources []types.Quote, ts time.Time) types.AggregatedPrice {
	return types.AggregatedPrice{Symbol: symbol, MarkPrice: mark, IndexPrice: mark, Sources: sources, Timestamp: ts}
}

// S3: single source, confidence ratio ~4.6% -> succeeds.
func TestScenarioS3(t *testing.T) {
	now := time.Now()
	sources := []types.Quote{{Symbol: "BTC/USD", Price: 65000, Confidence: 3000, Timestamp: now, Source: "pyth"}}
	price := agg("BTC/USD", 65000, sources, now)

	got, _, err := Validate(price, now)
	require.NoError(t, err)
	assert.Equal(t, 65000.0, got.MarkPrice)
}

// S4: single source, confidence ratio ~7.7% -> LowSingleSourceConfidence.
func TestScenarioS4(t *testing.T) {
	now := time.Now()
	sources := []types.Quote{{Symbol: "BTC/USD", Price: 65000, Confidence: 5000, Timestamp: now, Source: "pyth"}}
	price := agg("BTC/USD", 65000, sources, now)

	_, _, err := Validate(price, now)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindLowSingleSourceConfidence, kind)
}

// S2: two sources 10.77% apart -> DeviationTooHigh.
func TestScenarioS2(t *testing.T) {
	now := time.Now()
	sources := []types.Quote{
		{Symbol: "BTC/USD", Price: 65000, Confidence: 5, Timestamp: now, Source: "a"},
		{Symbol: "BTC/USD", Price: 72000, Confidence: 5, Timestamp: now, Source: "b"},
	}
	price := agg("BTC/USD", 68500, sources, now)

	_, _, err := Validate(price, now)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindDeviationTooHigh, kind)
}

func TestNoSources(t *testing.T) {
	now := time.Now()
	price := agg("BTC/USD", 65000, nil, now)
	_, _, err := Validate(price, now)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.KindNoSources, kind)
}

func TestAggregateStaleness(t *testing.T) {
	now := time.Now()
	sources := []types.Quote{{Symbol: "BTC/USD", Price: 65000, Confidence: 5, Timestamp: now.Add(-time.Second), Source: "a"}}
	price := agg("BTC/USD", 65000, sources, now.Add(-time.Minute))

	_, _, err := Validate(price, now)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.KindStale, kind)
}

func TestConservativePricingNoBlendBelowThreshold(t *testing.T) {
	price := agg("BTC/USD", 70000, nil, time.Now())
	out, warnings := ApplyConservativePricing(price, 0.5, func(types.Symbol, time.Duration) (float64, error) {
		t.Fatal("historical mean should not be queried below threshold")
		return 0, nil
	})
	assert.Equal(t, 70000.0, out.MarkPrice)
	assert.Empty(t, warnings)
}

func TestConservativePricingBlendsAboveThreshold(t *testing.T) {
	price := agg("BTC/USD", 75000, nil, time.Now())
	price.Confidence = 100
	out, warnings := ApplyConservativePricing(price, 0.8, func(types.Symbol, time.Duration) (float64, error) {
		return 65000, nil
	})
	assert.Empty(t, warnings)
	assert.InDelta(t, 0.8*75000+0.2*65000, out.MarkPrice, 1e-9)
	assert.InDelta(t, 150.0, out.Confidence, 1e-9)
}

func TestConservativePricingFallsBackWithoutHistoricalMean(t *testing.T) {
	price := agg("BTC/USD", 75000, nil, time.Now())
	out, warnings := ApplyConservativePricing(price, 0.9, func(types.Symbol, time.Duration) (float64, error) {
		return 0, fmt.Errorf("no history")
	})
	assert.Equal(t, 75000.0, out.MarkPrice)
	assert.NotEmpty(t, warnings)
}
