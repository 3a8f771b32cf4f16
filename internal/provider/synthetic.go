package provider

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/quantive/signalscan/internal/market"
)

// Synthetic generates a deterministic random-walk series per symbol. Used
// for development and tests: the same (symbol, time) always yields the same
// candle, so warmup and incremental pulls agree with each other.
type Synthetic struct {
	seed uint64
}

// NewSynthetic creates a synthetic provider. seed 0 selects a fixed default.
func NewSynthetic(seed uint64) *Synthetic {
	if seed == 0 {
		seed = 0x5eed
	}
	return &Synthetic{seed: seed}
}

func (s *Synthetic) Name() string { return "synthetic" }

// Candles emits tf-aligned bars ending at the current (or since-anchored)
// bucket. The walk is a sum of sines keyed by symbol hash, so different
// symbols trend differently but reproducibly.
func (s *Synthetic) Candles(ctx context.Context, symbol string, tf market.Timeframe, limit int, since time.Time) ([]market.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || !tf.Valid() {
		return nil, nil
	}

	step := tf.Duration()
	end := time.Now().UTC().Truncate(step)
	start := end.Add(-time.Duration(limit-1) * step)
	if !since.IsZero() {
		cutoff := since.UTC().Truncate(step).Add(step)
		if cutoff.After(start) {
			start = cutoff
		}
	}
	if start.After(end) {
		return nil, nil
	}

	base := s.basePrice(symbol)
	out := make([]market.Candle, 0, int(end.Sub(start)/step)+1)
	for t := start; !t.After(end); t = t.Add(step) {
		out = append(out, s.candleAt(symbol, t, base))
	}
	return out, nil
}

func (s *Synthetic) basePrice(symbol string) float64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return 1.0 + float64(h.Sum64()%9000)/100.0
}

func (s *Synthetic) candleAt(symbol string, t time.Time, base float64) market.Candle {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	phase := float64(h.Sum64()%628) / 100.0
	x := float64(t.Unix()) / 3600.0

	mid := base * (1 + 0.02*math.Sin(x/7+phase) + 0.005*math.Sin(x*1.3+phase*2))
	span := base * 0.0015
	open := mid - span/2
	close := mid + span/2
	if math.Sin(x*3.7+phase) < 0 {
		open, close = close, open
	}
	high := math.Max(open, close) + span/4
	low := math.Min(open, close) - span/4

	return market.Candle{
		Time:   t,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 1000 + 500*math.Abs(math.Sin(x+phase)),
	}
}
