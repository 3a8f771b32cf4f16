package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantive/signalscan/internal/market"
)

// zigzag builds alternating swing bars whose pivots drift by step per
// full cycle, producing clean higher-high/lower-low structure.
func zigzag(n int, base, amplitude, step float64) []market.Candle {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		mid := base + step*float64(i)
		var hi, lo float64
		if (i/3)%2 == 0 {
			hi, lo = mid+amplitude, mid-amplitude/4
		} else {
			hi, lo = mid+amplitude/4, mid-amplitude
		}
		out[i] = market.Candle{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: mid, High: hi, Low: lo, Close: mid,
		}
	}
	return out
}

func TestClassifyTrendBull(t *testing.T) {
	r := Classify(zigzag(60, 100, 2, 0.5))
	require.Equal(t, TrendBull, r.Regime)
	require.GreaterOrEqual(t, r.Evidence["hh_ratio"], 0.6)
	require.GreaterOrEqual(t, r.Evidence["hl_ratio"], 0.6)
}

func TestClassifyTrendBear(t *testing.T) {
	r := Classify(zigzag(60, 200, 2, -0.5))
	require.Equal(t, TrendBear, r.Regime)
}

func TestClassifyRange(t *testing.T) {
	// Triangle wave in a band under 2% of price: pivots repeat at the same
	// levels, so neither trend vote passes and the narrow span wins.
	offsets := []float64{0, 1, 2, 1, 0, -1, -2, -1}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 64; i++ {
		mid := 1000 + offsets[i%len(offsets)]
		candles = append(candles, market.Candle{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: mid, High: mid + 0.3, Low: mid - 0.3, Close: mid,
		})
	}
	r := Classify(candles)
	require.Equal(t, Range, r.Regime)
	require.Less(t, r.Evidence["span_pct"], 2.0)
}

func TestClassifyChopOnNoStructure(t *testing.T) {
	// Monotonic bars have no local pivots at all.
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var candles []market.Candle
	for i := 0; i < 30; i++ {
		p := 100 + float64(i)
		candles = append(candles, market.Candle{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: p, High: p + 0.5, Low: p - 0.5, Close: p,
		})
	}
	r := Classify(candles)
	require.Equal(t, Chop, r.Regime)
	require.Equal(t, 0.0, r.Evidence["swing_highs"])
}

func TestClassifyEmptyInput(t *testing.T) {
	r := Classify(nil)
	require.Equal(t, Chop, r.Regime)
}

func TestClassifyDeterministic(t *testing.T) {
	candles := zigzag(60, 100, 2, 0.5)
	require.Equal(t, Classify(candles), Classify(candles))
}
