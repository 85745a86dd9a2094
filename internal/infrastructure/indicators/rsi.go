package indicators

// NeutralRSI is reported when there is not enough history or prices are flat.
const NeutralRSI = 50.0

// CalculateRSI computes the Relative Strength Index using a simple rolling
// mean of gains and losses over period. Indexes without a full window hold
// NeutralRSI. A window with losses averaging 0 reads 100 when it had gains and
// NeutralRSI when it was flat.
func CalculateRSI(closes []float64, period int) []float64 {
	rsi := make([]float64, len(closes))
	for i := range rsi {
		rsi[i] = NeutralRSI
	}
	if period < 1 || len(closes) < period+1 {
		return rsi
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	var sumGain, sumLoss float64
	for i := 1; i < len(closes); i++ {
		sumGain += gains[i]
		sumLoss += losses[i]
		if i > period {
			sumGain -= gains[i-period]
			sumLoss -= losses[i-period]
		}
		if i < period {
			continue
		}
		rsi[i] = rsiFrom(sumGain/float64(period), sumLoss/float64(period))
	}
	return rsi
}

// LastRSI returns the final RSI value.
func LastRSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return NeutralRSI
	}
	// Trailing window only.
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	return rsiFrom(gain/float64(period), loss/float64(period))
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return NeutralRSI
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
