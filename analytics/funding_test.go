package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundingRatePositivePremium(t *testing.T) {
	now := time.Now()
	data, err := FundingRate("BTC/USD", 65100, 65000, 65050, 8*time.Hour, now)
	require.NoError(t, err)

	wantPremium := (65100.0 - 65000.0) / 65000.0
	assert.InDelta(t, wantPremium, data.Premium, 1e-9)
	assert.InDelta(t, wantPremium*0.125, data.FundingRate, 1e-9)
	assert.Equal(t, 65100.0, data.MarkPrice)
}

func TestFundingRateClampsAtCap(t *testing.T) {
	now := time.Now()
	data, err := FundingRate("BTC/USD", 100000, 65000, 65000, 8*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, FundingRateCap, data.FundingRate)
}

func TestFundingRateScalesWithInterval(t *testing.T) {
	now := time.Now()
	eightHour, err := FundingRate("BTC/USD", 65010, 65000, 65000, 8*time.Hour, now)
	require.NoError(t, err)
	oneHour, err := FundingRate("BTC/USD", 65010, 65000, 65000, 1*time.Hour, now)
	require.NoError(t, err)
	assert.InDelta(t, eightHour.FundingRate/8, oneHour.FundingRate, 1e-9)
}

func TestFundingRateRejectsZeroIndex(t *testing.T) {
	_, err := FundingRate("BTC/USD", 65000, 0, 0, 8*time.Hour, time.Now())
	require.Error(t, err)
}

func TestLiquidationPriceLong(t *testing.T) {
	now := time.Now()
	data, err := LiquidationPrice("BTC/USD", 65000, 60000, 1.0, 6000, Long, MaintenanceMarginRate, now)
	require.NoError(t, err)

	headroom := (6000.0 - 6000.0*0.05) / (1.0 * 60000.0)
	want := 60000.0 * (1 - headroom)
	assert.InDelta(t, want, data.LongLiquidation, 1e-6)
	assert.Equal(t, 0.0, data.ShortLiquidation)
	assert.InDelta(t, 300.0, data.MaintenanceMargin, 1e-9)
}

func TestLiquidationPriceShort(t *testing.T) {
	now := time.Now()
	data, err := LiquidationPrice("BTC/USD", 65000, 60000, 1.0, 6000, Short, MaintenanceMarginRate, now)
	require.NoError(t, err)
	assert.Greater(t, data.ShortLiquidation, 60000.0)
	assert.Equal(t, 0.0, data.LongLiquidation)
}

func TestLiquidationPriceRejectsNonPositiveInputs(t *testing.T) {
	_, err := LiquidationPrice("BTC/USD", 65000, 60000, 0, 6000, Long, MaintenanceMarginRate, time.Now())
	require.Error(t, err)
}
