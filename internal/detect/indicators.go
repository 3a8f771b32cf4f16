package detect

import "github.com/quantive/signalscan/internal/market"

// Small indicator helpers shared by the builtin detectors. All operate on
// the tail of the slice and return 0 when the window is short.

func sma(candles []market.Candle, n int) float64 {
	if n <= 0 || len(candles) < n {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}

func ema(candles []market.Candle, n int) float64 {
	if n <= 0 || len(candles) < n {
		return 0
	}
	k := 2.0 / float64(n+1)
	e := candles[len(candles)-n].Close
	for _, c := range candles[len(candles)-n+1:] {
		e = c.Close*k + e*(1-k)
	}
	return e
}

func highest(candles []market.Candle, n int) float64 {
	if n <= 0 || len(candles) == 0 {
		return 0
	}
	if n > len(candles) {
		n = len(candles)
	}
	h := candles[len(candles)-n].High
	for _, c := range candles[len(candles)-n:] {
		if c.High > h {
			h = c.High
		}
	}
	return h
}

func lowest(candles []market.Candle, n int) float64 {
	if n <= 0 || len(candles) == 0 {
		return 0
	}
	if n > len(candles) {
		n = len(candles)
	}
	l := candles[len(candles)-n].Low
	for _, c := range candles[len(candles)-n:] {
		if c.Low < l {
			l = c.Low
		}
	}
	return l
}

func avgVolume(candles []market.Candle, n int) float64 {
	if n <= 0 || len(candles) < n {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Volume
	}
	return sum / float64(n)
}

// atr is a simple average true range over the last n bars.
func atr(candles []market.Candle, n int) float64 {
	if n <= 0 || len(candles) < n+1 {
		return 0
	}
	sum := 0.0
	start := len(candles) - n
	for i := start; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		if prevClose := candles[i-1].Close; prevClose > candles[i].High {
			tr = prevClose - candles[i].Low
		} else if prevClose < candles[i].Low {
			tr = candles[i].High - prevClose
		}
		sum += tr
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
