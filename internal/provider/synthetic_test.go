package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantive/signalscan/internal/market"
)

func TestSyntheticDeterministic(t *testing.T) {
	s := NewSynthetic(0)
	ctx := context.Background()

	first, err := s.Candles(ctx, "BTCUSDT", market.M5, 100, time.Time{})
	require.NoError(t, err)
	second, err := s.Candles(ctx, "BTCUSDT", market.M5, 100, time.Time{})
	require.NoError(t, err)

	// The window may slide one bucket between calls; every shared
	// timestamp must carry an identical candle.
	byTime := map[time.Time]market.Candle{}
	for _, c := range second {
		byTime[c.Time] = c
	}
	shared := 0
	for _, c := range first {
		if got, ok := byTime[c.Time]; ok {
			require.Equal(t, c, got)
			shared++
		}
	}
	require.GreaterOrEqual(t, shared, 99)

	other, err := s.Candles(ctx, "ETHUSDT", market.M5, 100, time.Time{})
	require.NoError(t, err)
	require.NotEqual(t, first[0].Close, other[0].Close, "symbols differ")
}

func TestSyntheticCandlesValidAndAligned(t *testing.T) {
	s := NewSynthetic(0)
	candles, err := s.Candles(context.Background(), "BTCUSDT", market.M5, 50, time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 50)

	for i, c := range candles {
		require.True(t, c.Valid(), "candle %d", i)
		require.Zero(t, c.Time.Second())
		require.Zero(t, c.Time.Minute()%5)
		if i > 0 {
			require.Equal(t, 5*time.Minute, c.Time.Sub(candles[i-1].Time))
		}
	}
}

func TestSyntheticSinceCutoff(t *testing.T) {
	s := NewSynthetic(0)
	ctx := context.Background()

	full, err := s.Candles(ctx, "BTCUSDT", market.M5, 20, time.Time{})
	require.NoError(t, err)

	// Anchoring at the 10th candle returns only candles strictly after it,
	// identical to the tail of the full pull.
	tail, err := s.Candles(ctx, "BTCUSDT", market.M5, 20, full[9].Time)
	require.NoError(t, err)
	require.Equal(t, full[10:], tail)

	// A since in the future yields nothing.
	empty, err := s.Candles(ctx, "BTCUSDT", market.M5, 20, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSyntheticEdgeInputs(t *testing.T) {
	s := NewSynthetic(0)
	ctx := context.Background()

	none, err := s.Candles(ctx, "BTCUSDT", market.M5, 0, time.Time{})
	require.NoError(t, err)
	require.Empty(t, none)

	none, err = s.Candles(ctx, "BTCUSDT", "M7", 10, time.Time{})
	require.NoError(t, err)
	require.Empty(t, none)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Candles(cancelled, "BTCUSDT", market.M5, 10, time.Time{})
	require.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := New("synthetic", "")
	require.NoError(t, err)
	require.Equal(t, "synthetic", p.Name())

	p, err = New("", "")
	require.NoError(t, err)
	require.Equal(t, "synthetic", p.Name())

	_, err = New("httpjson", "")
	require.Error(t, err, "base URL required")

	p, err = New("httpjson", "http://localhost:9999")
	require.NoError(t, err)
	require.Equal(t, "httpjson", p.Name())

	_, err = New("bogus", "")
	require.Error(t, err)
}
