package history

import (
	"testing"
	"time"

	"price-oracle/oracle/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndMean(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	prices := []float64{64000, 65000, 66000}
	for i, p := range prices {
		err := s.Record(types.AggregatedPrice{
			Symbol:     "BTC/USD",
			MarkPrice:  p,
			IndexPrice: p,
			Confidence: 10,
			Sources:    []types.Quote{{Source: "pyth"}},
			Timestamp:  now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	mean, err := s.Mean("BTC/USD", time.Hour)
	require.NoError(t, err)
	require.InDelta(t, 65000.0, mean, 0.01)
}

func TestMeanErrorsWithoutHistory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Mean("ETH/USD", time.Hour)
	require.Error(t, err)
}

func TestRecentOrderedAscendingByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.Record(types.AggregatedPrice{Symbol: "BTC/USD", MarkPrice: 1, Timestamp: now.Add(-2 * time.Minute)}))
	require.NoError(t, s.Record(types.AggregatedPrice{Symbol: "BTC/USD", MarkPrice: 2, Timestamp: now.Add(-1 * time.Minute)}))
	require.NoError(t, s.Record(types.AggregatedPrice{Symbol: "BTC/USD", MarkPrice: 3, Timestamp: now}))

	entries, err := s.Recent("BTC/USD", time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 1.0, entries[0].MarkPrice)
	require.Equal(t, 3.0, entries[2].MarkPrice)
}
