// Package analytics layers funding-rate and liquidation-price calculations
// on top of the Aggregator Engine's public price surface. These are
// supplementary derivative-calculation endpoints (spec §1): they consume
// only AggregatedPrice values the Engine already validated and never reach
// into its internal state.
package analytics

import (
	"fmt"
	"time"
)

const (
	// fundingIntervalBase is the interval the damping factor below is
	// calibrated against; the original source hardcodes a 0.125 damping for
	// an 8-hour funding interval. Generalizing by interval lets shorter or
	// longer funding periods scale the same premium-rate formula while
	// preserving that calibration point exactly.
	fundingIntervalBase = 8 * time.Hour

	// fundingBaseDamping is the damping factor applied at fundingIntervalBase.
	fundingBaseDamping = 0.125

	// FundingRateCap bounds the published (and predicted) funding rate to
	// +/-0.75%, matching the source's clamp.
	FundingRateCap = 0.0075

	// MaintenanceMarginRate is the default maintenance margin fraction
	// applied to LiquidationPrice when the caller doesn't override it.
	MaintenanceMarginRate = 0.05
)

// FundingRateData mirrors the source's FundingRateData: the premium between
// mark and index price, damped into a periodic funding rate.
type FundingRateData struct {
	Symbol        string
	FundingRate   float64
	PredictedRate float64
	MarkPrice     float64
	IndexPrice    float64
	Premium       float64
	Timestamp     time.Time
}

// FundingRate computes the funding rate for one symbol from its current and
// recent mark/index spread. recentIndex is a shorter-window index price
// (e.g. a 15-minute TWAP) used to predict the next period's rate the same
// way the source derives predicted_rate from a tighter TWAP than the
// settlement index. interval is the funding period the rate applies to;
// index must be nonzero.
func FundingRate(symbol string, mark, index, recentIndex float64, interval time.Duration, now time.Time) (FundingRateData, error) {
	if index == 0 {
		return FundingRateData{}, fmt.Errorf("funding rate for %s: index price is zero", symbol)
	}
	if recentIndex == 0 {
		recentIndex = index
	}

	damping := fundingBaseDamping * float64(interval) / float64(fundingIntervalBase)

	premium := mark - index
	premiumRate := premium / index
	rate := clamp(premiumRate*damping, -FundingRateCap, FundingRateCap)

	recentPremium := mark - recentIndex
	predicted := clamp((recentPremium/recentIndex)*damping, -FundingRateCap, FundingRateCap)

	return FundingRateData{
		Symbol:        symbol,
		FundingRate:   rate,
		PredictedRate: predicted,
		MarkPrice:     mark,
		IndexPrice:    index,
		Premium:       premiumRate,
		Timestamp:     now,
	}, nil
}

// Side identifies a perpetual futures position direction.
type Side int

const (
	Long Side = iota
	Short
)

// LiquidationPriceData mirrors the source's LiquidationPrice.
type LiquidationPriceData struct {
	Symbol            string
	LongLiquidation   float64
	ShortLiquidation  float64
	MarkPrice         float64
	MaintenanceMargin float64
	Timestamp         time.Time
}

// LiquidationPrice computes the liquidation price for a position of
// positionSize units entered at entryPrice with margin collateral, per the
// source's calculate_liquidation_prices. maintenanceMarginRate is the
// fraction of margin required to keep the position open; pass
// MaintenanceMarginRate for the default 5%.
func LiquidationPrice(symbol string, markPrice, entryPrice, positionSize, margin float64, side Side, maintenanceMarginRate float64, now time.Time) (LiquidationPriceData, error) {
	if positionSize <= 0 || entryPrice <= 0 {
		return LiquidationPriceData{}, fmt.Errorf("liquidation price for %s: position size and entry price must be positive", symbol)
	}

	notional := positionSize * entryPrice
	maintenanceMargin := margin * maintenanceMarginRate
	headroom := (margin - maintenanceMargin) / notional

	var price float64
	if side == Long {
		price = entryPrice * (1 - headroom)
	} else {
		price = entryPrice * (1 + headroom)
	}

	out := LiquidationPriceData{
		Symbol:            symbol,
		MarkPrice:         markPrice,
		MaintenanceMargin: maintenanceMargin,
		Timestamp:         now,
	}
	if side == Long {
		out.LongLiquidation = price
	} else {
		out.ShortLiquidation = price
	}
	return out, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
