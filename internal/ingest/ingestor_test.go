package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantive/signalscan/internal/market"
)

// fakeProvider records the calls the ingestor makes.
type fakeProvider struct {
	mu    sync.Mutex
	name  string
	calls []fakeCall
	err   error
}

type fakeCall struct {
	symbol string
	limit  int
	since  time.Time
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Candles(_ context.Context, symbol string, _ market.Timeframe, limit int, since time.Time) ([]market.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{symbol: symbol, limit: limit, since: since})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !since.IsZero() {
		base = since.Add(5 * time.Minute)
	}
	out := make([]market.Candle, limit)
	for i := range out {
		out[i] = market.Candle{
			Time: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: 100, High: 101, Low: 99, Close: 100.5,
		}
	}
	return out, nil
}

func fixedUniverse(symbols ...string) UniverseFunc {
	return func() []string { return symbols }
}

func TestWarmupThenIncremental(t *testing.T) {
	cache := market.NewCache(0)
	p := &fakeProvider{name: "fake"}
	g := New(Config{WarmupCount: 100, IncrementalLimit: 10}, cache, p, nil, fixedUniverse("BTCUSDT"))

	// Cold cache: full warmup pull with no since anchor.
	g.RunCycle(context.Background())
	require.Len(t, p.calls, 1)
	require.Equal(t, 100, p.calls[0].limit)
	require.True(t, p.calls[0].since.IsZero())
	require.Equal(t, 100, cache.Len("BTCUSDT"))

	// Warm cache: incremental pull anchored at the last candle.
	g.RunCycle(context.Background())
	require.Len(t, p.calls, 2)
	require.Equal(t, 10, p.calls[1].limit)
	require.Equal(t, cache.Candles("BTCUSDT")[99].Time, p.calls[1].since)
}

func TestFailureIsolatedPerSymbol(t *testing.T) {
	cache := market.NewCache(0)
	p := &fakeProvider{name: "fake", err: errors.New("boom")}
	g := New(Config{WarmupCount: 10, IncrementalLimit: 5}, cache, p, nil, fixedUniverse("BTCUSDT", "ETHUSDT"))

	// Both symbols are attempted despite the first failing.
	g.RunCycle(context.Background())
	require.Len(t, p.calls, 2)
	require.Equal(t, 0, cache.Len("BTCUSDT"))
}

func TestFallbackUsedWhenPrimaryFails(t *testing.T) {
	cache := market.NewCache(0)
	primary := &fakeProvider{name: "primary", err: errors.New("down")}
	fallback := &fakeProvider{name: "fallback"}
	g := New(Config{WarmupCount: 20, IncrementalLimit: 5}, cache, primary, fallback, fixedUniverse("BTCUSDT"))

	g.RunCycle(context.Background())
	require.Len(t, primary.calls, 1)
	require.Len(t, fallback.calls, 1)
	require.Equal(t, 20, cache.Len("BTCUSDT"))
}

func TestPersistEveryNCycles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	cache := market.NewCache(0)
	p := &fakeProvider{name: "fake"}
	g := New(Config{WarmupCount: 10, IncrementalLimit: 5, PersistPath: path, PersistEvery: 2},
		cache, p, nil, fixedUniverse("BTCUSDT"))

	g.RunCycle(context.Background())
	re := market.NewCache(0)
	require.NoError(t, re.LoadSnapshot(path))
	require.Zero(t, re.Len("BTCUSDT"), "no snapshot after one cycle")

	g.RunCycle(context.Background())
	require.NoError(t, re.LoadSnapshot(path))
	require.Positive(t, re.Len("BTCUSDT"))
}

func TestCancelledContextStopsCycle(t *testing.T) {
	cache := market.NewCache(0)
	p := &fakeProvider{name: "fake"}
	g := New(Config{WarmupCount: 10, IncrementalLimit: 5}, cache, p, nil, fixedUniverse("BTCUSDT", "ETHUSDT"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.RunCycle(ctx)
	require.Empty(t, p.calls)
}
