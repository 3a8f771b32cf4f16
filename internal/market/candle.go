// Package market holds the candle data model, the pure resampler and the
// process-local tiered market-data cache.
package market

import (
	"fmt"
	"time"
)

// Candle is an immutable OHLC bar. Time is UTC and canonical: candles are
// keyed by Time within a symbol.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
}

// Valid reports whether the candle satisfies the OHLC invariant
// low <= min(open, close) <= max(open, close) <= high with a real timestamp.
func (c Candle) Valid() bool {
	if c.Time.IsZero() {
		return false
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return c.Low <= lo && hi <= c.High
}

// Timeframe is a candle bucket duration.
type Timeframe string

const (
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

var tfMinutes = map[Timeframe]int{
	M5:  5,
	M15: 15,
	M30: 30,
	H1:  60,
	H4:  240,
	D1:  1440,
}

// ParseTimeframe accepts the canonical code in any case.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(normalizeTF(s)) {
	case M5:
		return M5, nil
	case M15:
		return M15, nil
	case M30:
		return M30, nil
	case H1:
		return H1, nil
	case H4:
		return H4, nil
	case D1:
		return D1, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

func normalizeTF(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}

// Minutes returns the bucket length in minutes (0 for unknown).
func (tf Timeframe) Minutes() int { return tfMinutes[tf] }

// Duration returns the bucket length.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tfMinutes[tf]) * time.Minute
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool { return tfMinutes[tf] != 0 }

// Timeframes lists the supported resample targets in ascending order.
func Timeframes() []Timeframe {
	return []Timeframe{M5, M15, M30, H1, H4, D1}
}
