package market

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/atomicio"
)

// DefaultMaxSeriesLen bounds the per-symbol 5m ring.
const DefaultMaxSeriesLen = 5000

// snapshotVersion tags the on-disk cache format.
const snapshotVersion = 1

// Cache is the thread-safe process-local store of per-symbol 5m candles
// plus a keyed cache of resampled higher-timeframe series. A single mutex
// guards both maps so upsert and resample invalidation are one atomic step:
// readers see either the pre- or post-upsert view of a symbol, never a
// partial merge.
type Cache struct {
	mu        sync.Mutex
	maxLen    int
	series    map[string][]Candle
	resampled map[resampleKey]resampleEntry
}

type resampleKey struct {
	symbol string
	tf     Timeframe
}

type resampleEntry struct {
	lastSource time.Time
	candles    []Candle
}

// NewCache creates a cache with the given per-symbol bound (0 uses the
// default of 5000 bars).
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultMaxSeriesLen
	}
	return &Cache{
		maxLen:    maxLen,
		series:    make(map[string][]Candle),
		resampled: make(map[resampleKey]resampleEntry),
	}
}

// Upsert merges candles into the symbol's 5m series, keyed by time.
// Malformed candles are silently skipped. The series stays sorted strictly
// ascending and is truncated from the front to the length bound. If the
// merge advances the last timestamp, every resampled entry for the symbol
// is invalidated in the same critical section. Idempotent per batch.
func (c *Cache) Upsert(symbol string, candles []Candle) {
	if symbol == "" || len(candles) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.series[symbol]
	var prevLast time.Time
	if n := len(cur); n > 0 {
		prevLast = cur[n-1].Time
	}

	byTime := make(map[int64]Candle, len(cur)+len(candles))
	for _, b := range cur {
		byTime[b.Time.UnixNano()] = b
	}
	accepted := 0
	for _, b := range candles {
		if !b.Valid() {
			continue
		}
		b.Time = b.Time.UTC()
		byTime[b.Time.UnixNano()] = b
		accepted++
	}
	if accepted == 0 {
		return
	}

	merged := make([]Candle, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })
	if len(merged) > c.maxLen {
		merged = merged[len(merged)-c.maxLen:]
	}
	c.series[symbol] = merged

	newLast := merged[len(merged)-1].Time
	if newLast.After(prevLast) {
		for k := range c.resampled {
			if k.symbol == symbol {
				delete(c.resampled, k)
			}
		}
	}
}

// Candles returns a copy of the symbol's 5m series.
func (c *Cache) Candles(symbol string) []Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneCandles(c.series[symbol])
}

// CandlesSince returns candles with time strictly after ts.
func (c *Cache) CandlesSince(symbol string, ts time.Time) []Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.series[symbol]
	i := sort.Search(len(s), func(i int) bool { return s[i].Time.After(ts) })
	return cloneCandles(s[i:])
}

// LastTimestamp returns the newest 5m timestamp for the symbol, or the zero
// time when the series is empty.
func (c *Cache) LastTimestamp(symbol string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.series[symbol]
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Time
}

// Resampled returns the symbol's candles at tf. A cached entry is served
// only while its source timestamp still equals the series' last timestamp;
// otherwise the series is re-bucketed under the lock and the entry
// replaced. Invalidation is monotonic: older source timestamps never
// revive a stale entry.
func (c *Cache) Resampled(symbol string, tf Timeframe) []Candle {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[symbol]
	if len(s) == 0 {
		return nil
	}
	last := s[len(s)-1].Time
	key := resampleKey{symbol: symbol, tf: tf}
	if e, ok := c.resampled[key]; ok && e.lastSource.Equal(last) {
		return e.candles
	}
	out := Resample(s, tf)
	c.resampled[key] = resampleEntry{lastSource: last, candles: out}
	return out
}

// Symbols returns the cached symbols sorted ascending.
func (c *Cache) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.series))
	for s := range c.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of 5m candles held for symbol.
func (c *Cache) Len(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.series[symbol])
}

type snapshotFile struct {
	Version int                 `json:"version"`
	Symbols map[string][]Candle `json:"symbols"`
}

// SaveSnapshot serializes the whole 5m store to path atomically. Times are
// ISO-8601 UTC. Resampled entries are derived state and not persisted.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.Lock()
	snap := snapshotFile{Version: snapshotVersion, Symbols: make(map[string][]Candle, len(c.series))}
	for sym, s := range c.series {
		snap.Symbols[sym] = cloneCandles(s)
	}
	c.mu.Unlock()

	return atomicio.WriteJSONAtomic(path, snap)
}

// LoadSnapshot restores a snapshot written by SaveSnapshot. Unparseable
// rows are skipped; a missing file is not an error.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	loaded := 0
	for sym, candles := range snap.Symbols {
		c.Upsert(sym, candles)
		loaded += len(candles)
	}
	log.Info().Str("path", path).Int("symbols", len(snap.Symbols)).Int("candles", loaded).
		Msg("market cache snapshot loaded")
	return nil
}

func cloneCandles(s []Candle) []Candle {
	if len(s) == 0 {
		return nil
	}
	out := make([]Candle, len(s))
	copy(out, s)
	return out
}
