package market

import "time"

// Resample buckets 5m candles into the target timeframe. Pure function:
// open is the first candle's open, high/low the extremes, close the last
// candle's close, volume the sum. The incomplete final bucket is emitted —
// it represents the forming bar. Input must be sorted by time ascending,
// which the cache guarantees.
func Resample(src []Candle, tf Timeframe) []Candle {
	if !tf.Valid() || len(src) == 0 {
		return nil
	}
	if tf == M5 {
		out := make([]Candle, len(src))
		copy(out, src)
		return out
	}

	d := tf.Duration()
	out := make([]Candle, 0, len(src)/tf.Minutes()*5+1)
	var cur *Candle

	for _, c := range src {
		bucket := bucketStart(c.Time, d)
		if cur == nil || !cur.Time.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			nc := c
			nc.Time = bucket
			cur = &nc
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// bucketStart aligns t to the start of its bucket: minute % tf_minutes is
// subtracted and seconds are zeroed. Truncate on a UTC instant does exactly
// that for every divisor of 24h.
func bucketStart(t time.Time, d time.Duration) time.Time {
	return t.UTC().Truncate(d)
}
