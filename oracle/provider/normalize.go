package provider

import (
	"fmt"
	"math"

	"price-oracle/oracle/errs"
)

// PriceMax is the default upper bound a normalized price must not exceed.
const PriceMax = 1_000_000.0

// Normalize converts an upstream fixed-point (mantissa, exponent) pair into
// a canonical floating-point price in quote-currency units: mantissa *
// 10^exponent. Confidence uses the same exponent. A normalized price
// outside (0, PriceMax] is rejected as an invalid quote.
func Normalize(mantissa int64, confMantissa uint64, exponent int32) (price float64, confidence float64, err error) {
	factor := math.Pow(10, float64(exponent))
	price = float64(mantissa) * factor
	confidence = float64(confMantissa) * factor

	if price <= 0 || price > PriceMax {
		return 0, 0, errs.New(errs.KindInvalidQuote, fmt.Errorf("normalized price %v out of range (0, %v]", price, PriceMax))
	}
	if confidence < 0 {
		return 0, 0, errs.New(errs.KindInvalidQuote, fmt.Errorf("normalized confidence %v is negative", confidence))
	}
	return price, confidence, nil
}
