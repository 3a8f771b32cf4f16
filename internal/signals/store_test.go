package signals

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantive/signalscan/internal/detect"
	"github.com/quantive/signalscan/internal/explain"
	"github.com/quantive/signalscan/internal/scan"
	"github.com/quantive/signalscan/internal/strategy"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	pub := filepath.Join(dir, "signals.public.jsonl")
	return NewStore(filepath.Join(dir, "signals.jsonl"), pub), pub
}

func testCandidate(symbol string) *scan.Candidate {
	spec := strategy.Defaults()
	spec.StrategyID = "trend-a"
	spec.EntryTF = "M5"
	return &scan.Candidate{
		Strategy: spec,
		Score:    1.2,
		Hits:     []detect.Hit{{Name: "trend_follow", Side: detect.Buy, Strength: 0.8}},
		Setup: scan.Setup{
			Symbol: symbol, Direction: detect.Buy,
			Entry: 100, SL: 99, TP: 103, RR: 3,
			EntryZoneLow: 99.5, EntryZoneHigh: 100.5,
		},
	}
}

func testSignal(id, userID, symbol string, at time.Time) Signal {
	c := testCandidate(symbol)
	exp := explain.BuildPairOK(symbol, "M5", "scan-1", c.Strategy.StrategyID, c.Score, c.Setup.RR, nil, nil)
	return NewSignal(id, "scan-1", userID, c, exp, at)
}

func TestAppendAndListNewestFirst(t *testing.T) {
	s, _ := testStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.Append(testSignal(id, "u1", "BTCUSDT", base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := s.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "s3", got[0].SignalID)
	require.Equal(t, "s1", got[2].SignalID)

	limited, err := s.List(ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "s3", limited[0].SignalID)
}

func TestListFilters(t *testing.T) {
	s, _ := testStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Append(testSignal("s1", "u1", "BTCUSDT", now)))
	require.NoError(t, s.Append(testSignal("s2", "u2", "ETHUSDT", now)))
	require.NoError(t, s.Append(testSignal("s3", "u1", "ETHUSDT", now)))

	bySymbol, err := s.List(ListFilter{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, bySymbol, 2)

	byUser, err := s.List(ListFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, byUser, 2)

	both, err := s.List(ListFilter{Symbol: "ETHUSDT", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	require.Equal(t, "s3", both[0].SignalID)
}

func TestGetByID(t *testing.T) {
	s, _ := testStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Append(testSignal("s1", "u1", "BTCUSDT", now)))

	got, ok, err := s.GetByID("s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "BTCUSDT", got.Symbol)

	_, ok, err = s.GetByID("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListTolerantOfJunkLines(t *testing.T) {
	s, pub := testStore(t)
	require.NoError(t, s.Append(testSignal("s1", "u1", "BTCUSDT", time.Now().UTC())))

	f, err := os.OpenFile(pub, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n{not json}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, s.Append(testSignal("s2", "u1", "BTCUSDT", time.Now().UTC())))

	got, err := s.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestListEmptyWhenNoHistory(t *testing.T) {
	s, _ := testStore(t)
	got, err := s.List(ListFilter{})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPublicProjection(t *testing.T) {
	sig := testSignal("s1", "u1", "BTCUSDT", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	pub := sig.Public()

	require.Equal(t, explain.StatusOK, pub.Status)
	require.NotNil(t, pub.Evidence.Entry)
	require.Equal(t, 100.0, *pub.Evidence.Entry)
	require.Equal(t, 3.0, *pub.Evidence.RR)
	require.Len(t, pub.Evidence.EntryZone, 2)
	require.Equal(t, 99.5, *pub.Evidence.EntryZone[0])
	require.Equal(t, 100.5, *pub.Evidence.EntryZone[1])

	// Four deterministic drawings with signal-scoped ids.
	require.Len(t, pub.ChartDrawings, 4)
	require.Equal(t, "s1:entry_line", pub.ChartDrawings[0].ObjectID)
	require.Equal(t, "box", pub.ChartDrawings[3].Kind)
}

func TestPublicProjectionWithoutDrawings(t *testing.T) {
	sig := testSignal("s1", "u1", "BTCUSDT", time.Now().UTC())
	sig.Drawings = nil
	pub := sig.Public()
	// Entry zone keys are present as explicit nulls.
	require.Equal(t, []*float64{nil, nil}, pub.Evidence.EntryZone)
	require.Empty(t, pub.ChartDrawings)
}
