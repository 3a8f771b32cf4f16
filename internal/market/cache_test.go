package market

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func bar(t time.Time, o, h, l, c float64) Candle {
	return Candle{Time: t, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func series(start time.Time, n int) []Candle {
	out := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 5 * time.Minute)
		p := 100 + float64(i)
		out = append(out, bar(ts, p, p+1, p-1, p+0.5))
	}
	return out
}

func TestUpsertKeepsSeriesSortedAndDeduped(t *testing.T) {
	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := series(start, 50)

	// Shuffled batches with overlaps must converge to one sorted series.
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		batch := make([]Candle, len(s))
		copy(batch, s)
		r.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		cache.Upsert("BTCUSDT", batch[:25+r.Intn(25)])
	}
	cache.Upsert("BTCUSDT", s)

	got := cache.Candles("BTCUSDT")
	require.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i-1].Time.Before(got[i].Time), "series must be strictly ascending")
	}
}

func TestUpsertSkipsInvalidCandles(t *testing.T) {
	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("ETHUSDT", []Candle{
		bar(start, 100, 101, 99, 100.5),
		{Time: start.Add(5 * time.Minute), Open: 100, High: 99, Low: 101, Close: 100}, // inverted
		{Open: 1, High: 1, Low: 1, Close: 1},                                          // zero time
	})
	require.Equal(t, 1, cache.Len("ETHUSDT"))
}

func TestUpsertTruncatesToMaxLen(t *testing.T) {
	cache := NewCache(10)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("BTCUSDT", series(start, 25))

	got := cache.Candles("BTCUSDT")
	require.Len(t, got, 10)
	// The newest bars survive.
	require.Equal(t, start.Add(24*5*time.Minute), got[9].Time)
}

func TestUpsertIdempotent(t *testing.T) {
	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := series(start, 20)
	cache.Upsert("BTCUSDT", s)
	before := cache.Candles("BTCUSDT")
	cache.Upsert("BTCUSDT", s)
	require.Equal(t, before, cache.Candles("BTCUSDT"))
}

func TestResampledCachedUntilUpsert(t *testing.T) {
	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("BTCUSDT", series(start, 48)) // 4 hours of 5m bars

	first := cache.Resampled("BTCUSDT", H1)
	second := cache.Resampled("BTCUSDT", H1)
	require.NotEmpty(t, first)
	// Same backing array: the second call did no bucketing work.
	require.Same(t, &first[0], &second[0])

	// Upserting a newer bar invalidates the entry.
	next := start.Add(48 * 5 * time.Minute)
	cache.Upsert("BTCUSDT", []Candle{bar(next, 150, 151, 149, 150.5)})
	third := cache.Resampled("BTCUSDT", H1)
	require.NotSame(t, &first[0], &third[0])
	require.Equal(t, second, first)
}

func TestResampleInvalidationScenario(t *testing.T) {
	// get_resampled(H1) -> upsert newer bar -> get_resampled(H1) recomputes
	// and the forming H1 bar includes the new 5m candle.
	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("BTCUSDT", series(start, 12)) // one full hour

	h1 := cache.Resampled("BTCUSDT", H1)
	require.Len(t, h1, 1)

	cache.Upsert("BTCUSDT", []Candle{bar(start.Add(60*time.Minute), 200, 210, 195, 205)})
	h1 = cache.Resampled("BTCUSDT", H1)
	require.Len(t, h1, 2)
	require.Equal(t, 210.0, h1[1].High)
}

func TestCandlesSince(t *testing.T) {
	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("BTCUSDT", series(start, 10))

	got := cache.CandlesSince("BTCUSDT", start.Add(20*time.Minute))
	require.Len(t, got, 5)
	require.Equal(t, start.Add(25*time.Minute), got[0].Time)

	require.Empty(t, cache.CandlesSince("BTCUSDT", start.Add(time.Hour)))
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	cache := NewCache(0)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("BTCUSDT", series(start, 30))
	cache.Upsert("ETHUSDT", series(start, 5))
	require.NoError(t, cache.SaveSnapshot(path))

	restored := NewCache(0)
	require.NoError(t, restored.LoadSnapshot(path))
	require.Equal(t, cache.Candles("BTCUSDT"), restored.Candles("BTCUSDT"))
	require.Equal(t, cache.Candles("ETHUSDT"), restored.Candles("ETHUSDT"))
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, restored.Symbols())
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	cache := NewCache(0)
	require.NoError(t, cache.LoadSnapshot(filepath.Join(t.TempDir(), "nope.json")))
	require.Empty(t, cache.Symbols())
}
