package scan

import (
	"math"

	"github.com/quantive/signalscan/internal/detect"
	"github.com/quantive/signalscan/internal/market"
)

const (
	slLookback    = 10
	tpLookback    = 60
	atrWindow     = 14
	slPaddingMult = 0.25
	zoneHalfMult  = 0.25
)

// buildSetup derives entry, stop and target from entry-timeframe price
// action: entry at the last close, the stop beyond the recent swing with
// an ATR pad, the target at the opposing extreme of the wider window. The
// entry zone comes from detector evidence when a hit carries a level
// (ema, breakout_level), otherwise an ATR band around the entry.
func buildSetup(symbol string, dir detect.Side, entryCandles []market.Candle, hits []detect.Hit) (Setup, bool) {
	if len(entryCandles) < tpLookback {
		return Setup{}, false
	}
	entry := entryCandles[len(entryCandles)-1].Close
	rng := atrOf(entryCandles, atrWindow)
	if entry <= 0 || rng <= 0 {
		return Setup{}, false
	}

	var sl, tp float64
	if dir == detect.Buy {
		sl = lowestLow(entryCandles, slLookback) - slPaddingMult*rng
		tp = highestHigh(entryCandles, tpLookback)
	} else {
		sl = highestHigh(entryCandles, slLookback) + slPaddingMult*rng
		tp = lowestLow(entryCandles, tpLookback)
	}

	slDist := math.Abs(entry - sl)
	tpDist := math.Abs(tp - entry)
	if slDist <= 0 || tpDist <= 0 {
		return Setup{}, false
	}
	// Direction sign relationships must hold.
	if dir == detect.Buy && !(sl < entry && tp > entry) {
		return Setup{}, false
	}
	if dir == detect.Sell && !(sl > entry && tp < entry) {
		return Setup{}, false
	}

	zoneLow, zoneHigh := entryZone(entry, rng, hits)

	return Setup{
		Symbol:        symbol,
		Direction:     dir,
		Entry:         entry,
		SL:            sl,
		TP:            tp,
		RR:            tpDist / slDist,
		EntryZoneLow:  zoneLow,
		EntryZoneHigh: zoneHigh,
		Evidence: map[string]float64{
			"atr":     rng,
			"sl_dist": slDist,
			"tp_dist": tpDist,
		},
	}, true
}

// entryZone prefers a level from detector evidence; the zone spans from
// that level to the entry. Fallback is a symmetric ATR band.
func entryZone(entry, rng float64, hits []detect.Hit) (float64, float64) {
	for _, h := range hits {
		for _, key := range []string{"ema", "breakout_level"} {
			if level, ok := h.Evidence[key]; ok && level > 0 {
				if level < entry {
					return level, entry
				}
				return entry, level
			}
		}
	}
	half := zoneHalfMult * rng
	return entry - half, entry + half
}

func atrOf(candles []market.Candle, n int) float64 {
	if len(candles) < n+1 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - n; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		prev := candles[i-1].Close
		if hi := math.Abs(candles[i].High - prev); hi > tr {
			tr = hi
		}
		if lo := math.Abs(candles[i].Low - prev); lo > tr {
			tr = lo
		}
		sum += tr
	}
	return sum / float64(n)
}

func highestHigh(candles []market.Candle, n int) float64 {
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

func lowestLow(candles []market.Candle, n int) float64 {
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
