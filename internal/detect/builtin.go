package detect

import "math"

// The builtin detector set. Each is deliberately simple: the engine cares
// about the contract (side + strength + evidence), not about edge in the
// individual signals.

// TrendFollow fires with the trend when fast SMA leads slow SMA on the
// trend timeframe.
type TrendFollow struct{}

func (d *TrendFollow) Name() string   { return "trend_follow" }
func (d *TrendFollow) Family() string { return "trend" }
func (d *TrendFollow) Doc() string {
	return "Fast/slow SMA alignment on the trend timeframe; strength scales with separation."
}
func (d *TrendFollow) ParamsSchema() map[string]string {
	return map[string]string{"fast": "fast SMA length (default 20)", "slow": "slow SMA length (default 50)"}
}

func (d *TrendFollow) Detect(ctx Context) (Hit, bool) {
	fast := int(ctx.Param("fast", 20))
	slow := int(ctx.Param("slow", 50))
	f := sma(ctx.TrendCandles, fast)
	s := sma(ctx.TrendCandles, slow)
	if f == 0 || s == 0 {
		return Hit{}, false
	}
	sep := (f - s) / s
	if math.Abs(sep) < 0.0005 {
		return Hit{}, false
	}
	side := Buy
	if sep < 0 {
		side = Sell
	}
	return Hit{
		Name:     d.Name(),
		Side:     side,
		Strength: clamp01(math.Abs(sep) * 200),
		Evidence: map[string]float64{"sma_fast": f, "sma_slow": s, "separation": sep},
	}, true
}

// EMAPullback fires when price pulls back to the EMA while the trend
// timeframe still points one way.
type EMAPullback struct{}

func (d *EMAPullback) Name() string   { return "ema_pullback" }
func (d *EMAPullback) Family() string { return "trend" }
func (d *EMAPullback) Doc() string {
	return "Entry-timeframe pullback to the EMA in the direction of the trend-timeframe slope."
}
func (d *EMAPullback) ParamsSchema() map[string]string {
	return map[string]string{"ema": "EMA length (default 21)", "band_pct": "pullback band around the EMA in percent (default 0.2)"}
}

func (d *EMAPullback) Detect(ctx Context) (Hit, bool) {
	n := int(ctx.Param("ema", 21))
	band := ctx.Param("band_pct", 0.2) / 100
	e := ema(ctx.EntryCandles, n)
	tf := sma(ctx.TrendCandles, 20)
	ts := sma(ctx.TrendCandles, 50)
	if e == 0 || tf == 0 || ts == 0 {
		return Hit{}, false
	}
	last := ctx.EntryCandles[len(ctx.EntryCandles)-1]
	dist := math.Abs(last.Close-e) / e
	if dist > band {
		return Hit{}, false
	}
	side := Buy
	if tf < ts {
		side = Sell
	}
	return Hit{
		Name:     d.Name(),
		Side:     side,
		Strength: clamp01(1 - dist/band),
		Evidence: map[string]float64{"ema": e, "close": last.Close, "dist_pct": dist * 100},
	}, true
}

// RangeBounce fires near the edges of the recent entry-timeframe range.
type RangeBounce struct{}

func (d *RangeBounce) Name() string   { return "range_bounce" }
func (d *RangeBounce) Family() string { return "meanrev" }
func (d *RangeBounce) Doc() string {
	return "Buy near the low of the recent range, sell near the high; strength scales with edge proximity."
}
func (d *RangeBounce) ParamsSchema() map[string]string {
	return map[string]string{"lookback": "range lookback bars (default 50)", "edge_pct": "edge zone as fraction of range (default 0.15)"}
}

func (d *RangeBounce) Detect(ctx Context) (Hit, bool) {
	lookback := int(ctx.Param("lookback", 50))
	edge := ctx.Param("edge_pct", 0.15)
	hi := highest(ctx.EntryCandles, lookback)
	lo := lowest(ctx.EntryCandles, lookback)
	if hi <= lo || len(ctx.EntryCandles) == 0 {
		return Hit{}, false
	}
	span := hi - lo
	last := ctx.EntryCandles[len(ctx.EntryCandles)-1].Close
	pos := (last - lo) / span
	switch {
	case pos <= edge:
		return Hit{
			Name: d.Name(), Side: Buy,
			Strength: clamp01(1 - pos/edge),
			Evidence: map[string]float64{"range_high": hi, "range_low": lo, "position": pos},
		}, true
	case pos >= 1-edge:
		return Hit{
			Name: d.Name(), Side: Sell,
			Strength: clamp01((pos - (1 - edge)) / edge),
			Evidence: map[string]float64{"range_high": hi, "range_low": lo, "position": pos},
		}, true
	}
	return Hit{}, false
}

// Breakout fires when the last close clears the prior N-bar extreme.
type Breakout struct{}

func (d *Breakout) Name() string   { return "breakout" }
func (d *Breakout) Family() string { return "breakout" }
func (d *Breakout) Doc() string {
	return "Close beyond the prior N-bar high/low on the entry timeframe."
}
func (d *Breakout) ParamsSchema() map[string]string {
	return map[string]string{"lookback": "breakout lookback bars (default 40)"}
}

func (d *Breakout) Detect(ctx Context) (Hit, bool) {
	lookback := int(ctx.Param("lookback", 40))
	if len(ctx.EntryCandles) < lookback+1 {
		return Hit{}, false
	}
	prior := ctx.EntryCandles[:len(ctx.EntryCandles)-1]
	hi := highest(prior, lookback)
	lo := lowest(prior, lookback)
	last := ctx.EntryCandles[len(ctx.EntryCandles)-1]
	rng := hi - lo
	if rng <= 0 {
		return Hit{}, false
	}
	if last.Close > hi {
		return Hit{
			Name: d.Name(), Side: Buy,
			Strength: clamp01((last.Close - hi) / rng * 10),
			Evidence: map[string]float64{"breakout_level": hi, "close": last.Close},
		}, true
	}
	if last.Close < lo {
		return Hit{
			Name: d.Name(), Side: Sell,
			Strength: clamp01((lo - last.Close) / rng * 10),
			Evidence: map[string]float64{"breakout_level": lo, "close": last.Close},
		}, true
	}
	return Hit{}, false
}

// MomentumShift compares recent net movement against the prior window.
type MomentumShift struct{}

func (d *MomentumShift) Name() string   { return "momentum_shift" }
func (d *MomentumShift) Family() string { return "momentum" }
func (d *MomentumShift) Doc() string {
	return "Net close-to-close movement of the last window versus the one before it."
}
func (d *MomentumShift) ParamsSchema() map[string]string {
	return map[string]string{"window": "comparison window bars (default 14)"}
}

func (d *MomentumShift) Detect(ctx Context) (Hit, bool) {
	w := int(ctx.Param("window", 14))
	if len(ctx.EntryCandles) < 2*w {
		return Hit{}, false
	}
	n := len(ctx.EntryCandles)
	recent := ctx.EntryCandles[n-1].Close - ctx.EntryCandles[n-w].Close
	prior := ctx.EntryCandles[n-w-1].Close - ctx.EntryCandles[n-2*w].Close
	ref := atr(ctx.EntryCandles, w)
	if ref == 0 {
		return Hit{}, false
	}
	shift := (recent - prior) / (ref * float64(w))
	if math.Abs(shift) < 0.1 {
		return Hit{}, false
	}
	side := Buy
	if shift < 0 {
		side = Sell
	}
	return Hit{
		Name: d.Name(), Side: side,
		Strength: clamp01(math.Abs(shift)),
		Evidence: map[string]float64{"recent_move": recent, "prior_move": prior, "shift": shift},
	}, true
}

// VolumeSpike confirms the last bar's direction when volume far exceeds
// its recent average.
type VolumeSpike struct{}

func (d *VolumeSpike) Name() string   { return "volume_spike" }
func (d *VolumeSpike) Family() string { return "volume" }
func (d *VolumeSpike) Doc() string {
	return "Last-bar volume versus its average; direction follows the bar's body."
}
func (d *VolumeSpike) ParamsSchema() map[string]string {
	return map[string]string{"avg_bars": "volume average window (default 20)", "min_ratio": "minimum spike ratio (default 2.0)"}
}

func (d *VolumeSpike) Detect(ctx Context) (Hit, bool) {
	n := int(ctx.Param("avg_bars", 20))
	minRatio := ctx.Param("min_ratio", 2.0)
	if len(ctx.EntryCandles) < n+1 {
		return Hit{}, false
	}
	avg := avgVolume(ctx.EntryCandles[:len(ctx.EntryCandles)-1], n)
	last := ctx.EntryCandles[len(ctx.EntryCandles)-1]
	if avg == 0 || last.Volume < avg*minRatio {
		return Hit{}, false
	}
	if last.Close == last.Open {
		return Hit{}, false
	}
	side := Buy
	if last.Close < last.Open {
		side = Sell
	}
	ratio := last.Volume / avg
	return Hit{
		Name: d.Name(), Side: side,
		Strength: clamp01((ratio - minRatio) / (2 * minRatio)),
		Evidence: map[string]float64{"volume": last.Volume, "avg_volume": avg, "ratio": ratio},
	}, true
}
