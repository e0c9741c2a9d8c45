package query

import fp "PerpRisk/internal/fixedpoint"

// Display conversions for API responses only. Nothing downstream of these
// floats feeds back into engine arithmetic.

// DisplayPrice converts a PricePrecision value to a float.
func DisplayPrice(v int64) float64 {
	return float64(v) / float64(fp.PricePrecision)
}

// DisplayQuote converts a QuotePrecision value to a float.
func DisplayQuote(v int64) float64 {
	return float64(v) / float64(fp.QuotePrecision)
}

// DisplayBase converts a BasePrecision value to a float.
func DisplayBase(v int64) float64 {
	return float64(v) / float64(fp.BasePrecision)
}

// DisplayFundingRate converts a FundingRatePrecision value to a float.
func DisplayFundingRate(v int64) float64 {
	return float64(v) / float64(fp.FundingRatePrecision)
}
