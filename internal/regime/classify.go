// Package regime classifies market structure on the trend timeframe into
// the coarse set RANGE, CHOP, TREND_BULL, TREND_BEAR.
package regime

import (
	"github.com/quantive/signalscan/internal/market"
)

// Regime codes.
const (
	Range     = "RANGE"
	Chop      = "CHOP"
	TrendBull = "TREND_BULL"
	TrendBear = "TREND_BEAR"
)

// Result is the classification plus its numeric evidence.
type Result struct {
	Regime   string             `json:"regime"`
	Evidence map[string]float64 `json:"evidence"`
}

// swing window: each candle is compared against this many neighbours on
// both sides to qualify as a swing point.
const swingWindow = 2

// Classify inspects the sequence of swing highs and lows: higher-highs +
// higher-lows vote bull, lower-highs + lower-lows vote bear, a narrow
// total span votes range, and disagreement is chop. Deterministic over its
// input.
func Classify(trendCandles []market.Candle) Result {
	highs, lows := swings(trendCandles)
	ev := map[string]float64{
		"swing_highs": float64(len(highs)),
		"swing_lows":  float64(len(lows)),
	}

	if len(highs) < 2 || len(lows) < 2 {
		ev["reason_code"] = 0 // not enough structure
		return Result{Regime: Chop, Evidence: ev}
	}

	hhRatio := directionRatio(highs, true)
	hlRatio := directionRatio(lows, true)
	lhRatio := directionRatio(highs, false)
	llRatio := directionRatio(lows, false)
	ev["hh_ratio"] = hhRatio
	ev["hl_ratio"] = hlRatio
	ev["lh_ratio"] = lhRatio
	ev["ll_ratio"] = llRatio

	spanPct := rangeSpanPct(trendCandles)
	ev["span_pct"] = spanPct

	switch {
	case hhRatio >= 0.6 && hlRatio >= 0.6:
		return Result{Regime: TrendBull, Evidence: ev}
	case lhRatio >= 0.6 && llRatio >= 0.6:
		return Result{Regime: TrendBear, Evidence: ev}
	case spanPct < 2.0:
		return Result{Regime: Range, Evidence: ev}
	}
	return Result{Regime: Chop, Evidence: ev}
}

// swings extracts swing high and swing low prices in time order.
func swings(candles []market.Candle) (highs, lows []float64) {
	for i := swingWindow; i < len(candles)-swingWindow; i++ {
		isHigh, isLow := true, true
		for j := i - swingWindow; j <= i+swingWindow; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, candles[i].High)
		}
		if isLow {
			lows = append(lows, candles[i].Low)
		}
	}
	return highs, lows
}

// directionRatio is the fraction of consecutive swing pairs moving up
// (rising=true) or down.
func directionRatio(points []float64, rising bool) float64 {
	if len(points) < 2 {
		return 0
	}
	hits := 0
	for i := 1; i < len(points); i++ {
		if rising && points[i] > points[i-1] {
			hits++
		}
		if !rising && points[i] < points[i-1] {
			hits++
		}
	}
	return float64(hits) / float64(len(points)-1)
}

// rangeSpanPct is the total high-low span of the window as a percent of
// the last close.
func rangeSpanPct(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	hi, lo := candles[0].High, candles[0].Low
	for _, c := range candles {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	last := candles[len(candles)-1].Close
	if last == 0 {
		return 0
	}
	return (hi - lo) / last * 100
}
