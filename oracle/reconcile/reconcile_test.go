package reconcile

import (
	"testing"
	"time"

	"price-oracle/oracle/errs"
	"price-oracle/oracle/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(symbol types.Symbol, price, confidence float64, ts time.Time, source string) types.Quote {
	return types.Quote{Symbol: symbol, Price: price, Confidence: confidence, Timestamp: ts, Source: source}
}

func TestSingleSourcePreservation(t *testing.T) {
	now := time.Now()
	q := quote("BTC/USD", 65000, 3000, now, "pyth")
	res, err := Reconcile("BTC/USD", []types.Quote{q}, now)
	require.NoError(t, err)
	assert.Equal(t, 65000.0, res.Price.MarkPrice)
}

func TestConsensusBounds(t *testing.T) {
	now := time.Now()
	quotes := []types.Quote{
		quote("BTC/USD", 65000, 5, now, "a"),
		quote("BTC/USD", 65020, 10, now, "b"),
	}
	res, err := Reconcile("BTC/USD", quotes, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Price.MarkPrice, 65000.0)
	assert.LessOrEqual(t, res.Price.MarkPrice, 65020.0)
}

func TestStalenessFilterDoesNotChangeOutcome(t *testing.T) {
	now := time.Now()
	base := []types.Quote{
		quote("BTC/USD", 65000, 5, now, "a"),
		quote("BTC/USD", 65020, 10, now, "b"),
	}
	withStale := append(append([]types.Quote{}, base...), quote("BTC/USD", 50000, 5, now.Add(-time.Hour), "c"))

	resBase, err := Reconcile("BTC/USD", base, now)
	require.NoError(t, err)
	resStale, err := Reconcile("BTC/USD", withStale, now)
	require.NoError(t, err)

	assert.Equal(t, resBase.Price.MarkPrice, resStale.Price.MarkPrice)
}

func TestAllStaleFails(t *testing.T) {
	now := time.Now()
	quotes := []types.Quote{quote("BTC/USD", 65000, 5, now.Add(-time.Hour), "a")}
	_, err := Reconcile("BTC/USD", quotes, now)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindAllStale, kind)
}

// S1 from the spec's end-to-end scenarios.
func TestScenarioS1(t *testing.T) {
	now := time.Now()
	quotes := []types.Quote{
		quote("BTC/USD", 65000.0, 5.0, now, "pyth"),
		quote("BTC/USD", 65020.0, 10.0, now, "switchboard"),
	}
	res, err := Reconcile("BTC/USD", quotes, now)
	require.NoError(t, err)
	assert.InDelta(t, 65006.66, res.Price.MarkPrice, 0.5)
	assert.Len(t, res.Price.Sources, 2)
}
