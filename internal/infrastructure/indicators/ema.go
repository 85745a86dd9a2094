package indicators

// CalculateEMA computes the Exponential Moving Average series with smoothing
// factor 2/(period+1). The series is seeded with the first price, so every
// index carries a value.
func CalculateEMA(data []float64, period int) []float64 {
	ema := make([]float64, len(data))
	if len(data) == 0 || period < 1 {
		return ema
	}

	k := 2.0 / (float64(period) + 1.0)
	ema[0] = data[0]
	for i := 1; i < len(data); i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// LastEMA returns the final EMA value, or 0 for empty input.
func LastEMA(data []float64, period int) float64 {
	ema := CalculateEMA(data, period)
	if len(ema) == 0 {
		return 0
	}
	return ema[len(ema)-1]
}
