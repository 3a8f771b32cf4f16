package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("BTCUSDT", "M5", "trend-a", "BUY")
	k2 := Key("BTCUSDT", "M5", "trend-a", "BUY")
	require.Equal(t, k1, k2)
	require.Len(t, k1, 40) // hex sha1
	require.NotEqual(t, k1, Key("BTCUSDT", "M5", "trend-a", "SELL"))
}

func TestDayUsesTZOffset(t *testing.T) {
	// 23:30 UTC is already the next day at +2h offset.
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	require.Equal(t, "2026-03-01", Day(ts, 0))
	require.Equal(t, "2026-03-02", Day(ts, 2))
	require.Equal(t, "2026-03-01", Day(ts, -3))
}

func TestCooldownLaw(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	key := Key("BTCUSDT", "M5", "s1", "BUY")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, s.CanSend(key, now, 60), "no record yet")
	s.RecordSent(key, now, "BTCUSDT", "M5", "s1", "BUY")

	require.False(t, s.CanSend(key, now.Add(59*time.Minute), 60))
	require.True(t, s.CanSend(key, now.Add(60*time.Minute), 60))
	require.True(t, s.CanSend(key, now.Add(time.Minute), 0), "cooldown 0 disables")
}

func TestDailyCounters(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	bucket := Bucket("BTCUSDT", "M5", "s1")
	require.Equal(t, 0, s.DailyCount(bucket, "2026-03-01"))
	s.IncrementDaily(bucket, "2026-03-01")
	s.IncrementDaily(bucket, "2026-03-01")
	s.IncrementDaily(bucket, "2026-03-02")
	require.Equal(t, 2, s.DailyCount(bucket, "2026-03-01"))
	require.Equal(t, 1, s.DailyCount(bucket, "2026-03-02"))
}

func TestFlushAndReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := Key("BTCUSDT", "M5", "s1", "BUY")
	s.RecordSent(key, now, "BTCUSDT", "M5", "s1", "BUY")
	s.IncrementDaily(Bucket("BTCUSDT", "M5", "s1"), Day(now, 0))
	require.NoError(t, s.Flush(true))

	re, err := Open(path)
	require.NoError(t, err)
	sent, daily := re.SnapshotCounts()
	require.Equal(t, 1, sent)
	require.Equal(t, 1, daily)

	rec, ok := re.LastSent(key)
	require.True(t, ok)
	require.Equal(t, "BTCUSDT", rec.Symbol)
	require.Equal(t, "s1", rec.StrategyID)
	require.Equal(t, now, rec.TS)
}

func TestLegacyRecordsGetLegacyStrategyID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	raw := `{"schema":1,"sent":{"abc":{"ts":"2026-03-01T12:00:00Z","symbol":"BTCUSDT","direction":"BUY","timeframe":"M5"}},"daily":{}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	rec, ok := s.LastSent("abc")
	require.True(t, ok)
	require.Equal(t, "legacy", rec.StrategyID)
}

func TestPrune(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	oldKey := Key("BTCUSDT", "M5", "s1", "BUY")
	newKey := Key("ETHUSDT", "M5", "s1", "BUY")
	s.RecordSent(oldKey, now.AddDate(0, 0, -15), "BTCUSDT", "M5", "s1", "BUY")
	s.RecordSent(newKey, now.AddDate(0, 0, -1), "ETHUSDT", "M5", "s1", "BUY")

	bucket := Bucket("BTCUSDT", "M5", "s1")
	s.IncrementDaily(bucket, "2026-03-01") // older than cutoff day
	s.IncrementDaily(bucket, "2026-03-19")

	removed := s.Prune(14, now)
	require.Equal(t, 2, removed)

	_, oldOK := s.LastSent(oldKey)
	_, newOK := s.LastSent(newKey)
	require.False(t, oldOK)
	require.True(t, newOK)
	require.Equal(t, 0, s.DailyCount(bucket, "2026-03-01"))
	require.Equal(t, 1, s.DailyCount(bucket, "2026-03-19"))
}

func TestFlushDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	s.RecordSent("k", time.Now(), "BTCUSDT", "M5", "s1", "BUY")
	require.NoError(t, s.Flush(true))
	info1, err := os.Stat(path)
	require.NoError(t, err)

	// Dirty again, but inside the debounce window without force: no write.
	s.RecordSent("k2", time.Now(), "ETHUSDT", "M5", "s1", "BUY")
	require.NoError(t, s.Flush(false))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info1.Size(), info2.Size())

	// Forced flush writes the second record.
	require.NoError(t, s.Flush(true))
	re, err := Open(path)
	require.NoError(t, err)
	sent, _ := re.SnapshotCounts()
	require.Equal(t, 2, sent)
}
