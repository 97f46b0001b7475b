package oracle

import (
	"context"
	"testing"
	"time"

	"price-oracle/oracle/errs"
	"price-oracle/oracle/history"
	"price-oracle/oracle/provider"
	"price-oracle/oracle/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *history.SQLiteStore {
	t.Helper()
	s, err := history.NewSQLiteStore(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestScenarioS1: two adapters priced 65000/65020 -> weighted mark, two
// sources, zero manipulation score, one history row.
func TestScenarioS1(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")
	b := provider.NewMockAdapter("switchboard")
	now := time.Now()
	a.Set("BTC/USD", types.Quote{Price: 65000.0, Confidence: 5.0, Timestamp: now})
	b.Set("BTC/USD", types.Quote{Price: 65020.0, Confidence: 10.0, Timestamp: now})

	e := New([]provider.Adapter{a, b}, store, Config{}, zerolog.Nop())
	defer e.Close()

	price, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.InDelta(t, 65006.66, price.MarkPrice, 0.5)
	assert.Len(t, price.Sources, 2)

	entries, err := store.Recent("BTC/USD", time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestScenarioS2: two adapters 10.77% apart -> DeviationTooHigh, no persist.
func TestScenarioS2(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")
	b := provider.NewMockAdapter("switchboard")
	now := time.Now()
	a.Set("BTC/USD", types.Quote{Price: 65000.0, Confidence: 5.0, Timestamp: now})
	b.Set("BTC/USD", types.Quote{Price: 72000.0, Confidence: 5.0, Timestamp: now})

	e := New([]provider.Adapter{a, b}, store, Config{}, zerolog.Nop())
	defer e.Close()

	_, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindDeviationTooHigh, kind)

	entries, err := store.Recent("BTC/USD", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestScenarioS6: every adapter fails -> NoSources, next tick retries clean.
func TestScenarioS6(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")
	b := provider.NewMockAdapter("switchboard")
	a.SetError("BTC/USD", assertErr("unavailable"))
	b.SetError("BTC/USD", assertErr("unavailable"))

	e := New([]provider.Adapter{a, b}, store, Config{}, zerolog.Nop())
	defer e.Close()

	_, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindNoSources, kind)

	entries, err := store.Recent("BTC/USD", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Next tick starts clean from Idle: a fixed succeeds, aggregation works.
	a.Set("BTC/USD", types.Quote{Price: 65000.0, Confidence: 5.0, Timestamp: time.Now()})
	price, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 65000.0, price.MarkPrice)
}

// Cache coherence: repeated calls within TTL return the byte-equal price
// without re-polling; after TTL a fresh poll fires.
func TestCacheCoherence(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")
	a.Set("BTC/USD", types.Quote{Price: 65000.0, Confidence: 5.0, Timestamp: time.Now()})

	e := New([]provider.Adapter{a}, store, Config{CacheTTL: 50 * time.Millisecond}, zerolog.Nop())
	defer e.Close()

	first, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)

	a.Set("BTC/USD", types.Quote{Price: 99999.0, Confidence: 5.0, Timestamp: time.Now()})
	second, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	time.Sleep(60 * time.Millisecond)
	third, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 99999.0, third.MarkPrice)
}

// No publish on failure: a failing tick must not appear on the broadcast.
func TestNoPublishOnFailure(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")
	a.SetError("BTC/USD", assertErr("down"))

	e := New([]provider.Adapter{a}, store, Config{}, zerolog.Nop())
	defer e.Close()

	sub := e.Subscribe()
	defer e.Unsubscribe(sub)

	_, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.Error(t, err)

	select {
	case <-sub:
		t.Fatal("rejected tick must not be broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

// Per-symbol order: consecutive PriceUpdates for the same symbol carry
// non-decreasing timestamps.
func TestPerSymbolMonotoneOrder(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")

	e := New([]provider.Adapter{a}, store, Config{CacheTTL: time.Nanosecond}, zerolog.Nop())
	defer e.Close()

	sub := e.Subscribe()
	defer e.Unsubscribe(sub)

	base := time.Now()
	a.Set("BTC/USD", types.Quote{Price: 65000.0, Confidence: 5.0, Timestamp: base})
	_, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	a.Set("BTC/USD", types.Quote{Price: 65010.0, Confidence: 5.0, Timestamp: base.Add(time.Millisecond)})
	_, err = e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)

	first := <-sub
	second := <-sub
	assert.False(t, second.Timestamp.Before(first.Timestamp))
}

func TestGetHealthStatusReflectsCache(t *testing.T) {
	store := newTestStore(t)
	a := provider.NewMockAdapter("pyth")
	b := provider.NewMockAdapter("switchboard")
	now := time.Now()
	a.Set("BTC/USD", types.Quote{Price: 65000.0, Confidence: 5.0, Timestamp: now})
	b.Set("BTC/USD", types.Quote{Price: 65020.0, Confidence: 10.0, Timestamp: now})

	e := New([]provider.Adapter{a, b}, store, Config{}, zerolog.Nop())
	defer e.Close()

	_, err := e.GetValidatedPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)

	status := e.GetHealthStatus()
	sh, ok := status["BTC/USD"]
	require.True(t, ok)
	assert.Equal(t, 2, sh.SourceCount)
	assert.False(t, sh.Stale)
}

func TestGetManipulationReportEmptyWithoutHistory(t *testing.T) {
	store := newTestStore(t)
	e := New(nil, store, Config{}, zerolog.Nop())
	defer e.Close()

	report := e.GetManipulationReport("ETH/USD", 1)
	assert.Empty(t, report)
}

type simpleErr string

func (s simpleErr) Error() string { return string(s) }

func assertErr(msg string) error { return simpleErr(msg) }
