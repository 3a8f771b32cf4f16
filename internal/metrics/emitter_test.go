package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	e := NewEmitter(path)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	e.Emit(Event{
		TS: ts, ScanID: "scan-1", Symbol: "BTCUSDT", TF: "M5",
		StrategyID: "trend-a", Status: "OK", Reason: "OK",
		Score: 1.2, RR: 2.5, Candidates: 1, TopHits: []string{"trend_follow"},
		HitCount: 1,
	})
	e.Emit(Event{
		TS: ts, ScanID: "scan-1", Symbol: "ETHUSDT", TF: "M5",
		Status: "NONE", Reason: "COOLDOWN_ACTIVE",
		BlockedWinnerStrategyID: "trend-a", BlockedReason: "COOLDOWN_ACTIVE",
	})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, events, 2)

	// Timestamps normalize to UTC.
	require.Equal(t, time.UTC, events[0].TS.Location())
	require.Equal(t, ts.UTC(), events[0].TS)
	require.Equal(t, []string{"trend_follow"}, events[0].TopHits)
	require.Equal(t, "trend-a", events[1].BlockedWinnerStrategyID)

	require.Equal(t, int64(0), NewEmitter(filepath.Join(t.TempDir(), "none")).FileSize())
	require.Positive(t, e.FileSize())
}

func TestBlockedFieldsOmittedWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	e := NewEmitter(path)
	e.Emit(Event{ScanID: "scan-1", Symbol: "BTCUSDT", Status: "OK", Reason: "OK"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "blocked_winner_strategy_id")
	require.NotContains(t, string(data), "blocked_reason")
}
