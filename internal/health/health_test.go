package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotOK(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Checker{
		AppVersion: "1.4.0",
		GitSHA:     "abc1234",
		Started:    started,
		Strategies: func() (int, []string, int) { return 5, nil, 2 },
		LastScan: func() (time.Time, string) {
			return time.Date(2026, 3, 1, 12, 9, 0, 0, time.UTC), "scan-9"
		},
		MetricsFileSize: func() int64 { return 1024 },
		PatchAuditSize:  func() int64 { return 64 },
	}

	s := c.Snapshot(started.Add(10 * time.Minute))
	require.Equal(t, StatusOK, s.Status)
	require.Equal(t, int64(600), s.UptimeS)
	require.Equal(t, 5, s.StrategiesLoadedCount)
	require.Equal(t, []string{}, s.InvalidStrategies)
	require.Equal(t, 2, s.UnknownDetectorsCount)
	require.Equal(t, "2026-03-01T12:09:00Z", s.LastScanTS)
	require.Equal(t, "scan-9", s.LastScanID)
	require.Equal(t, int64(1024), s.MetricsEventsFileSize)
	require.Equal(t, int64(64), s.PatchAuditFileSize)
}

func TestSnapshotDegradedOnInvalidStrategies(t *testing.T) {
	c := &Checker{
		Started:    time.Now(),
		Strategies: func() (int, []string, int) { return 3, []string{"bad-strategy"}, 0 },
	}
	s := c.Snapshot(time.Now())
	require.Equal(t, StatusDegraded, s.Status)
	require.Equal(t, []string{"bad-strategy"}, s.InvalidStrategies)
}

func TestSnapshotNilProbes(t *testing.T) {
	c := &Checker{Started: time.Now()}
	s := c.Snapshot(time.Now())
	require.Equal(t, StatusOK, s.Status)
	require.Empty(t, s.LastScanTS)
	require.NotNil(t, s.InvalidStrategies)
}

func TestSnapshotJSONDeterministic(t *testing.T) {
	c := &Checker{
		AppVersion: "1.4.0",
		GitSHA:     "abc1234",
		Started:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Strategies: func() (int, []string, int) { return 1, nil, 0 },
	}
	at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	first := c.Snapshot(at).JSON()
	second := c.Snapshot(at).JSON()
	require.Equal(t, first, second)
	require.Contains(t, string(first), `"invalid_strategies":[]`)
}

func TestBanner(t *testing.T) {
	b := BannerInfo{
		AppVersion: "1.4.0", GitSHA: "abc1234",
		StrategySchema: 1, ExplainSchema: 1, MetricsSchema: 1,
		Detectors: 6, PresetsDir: "./presets", NotifyMode: "all", Provider: "synthetic",
	}
	require.Equal(t,
		"STARTUP_BANNER | 1.4.0 | abc1234 | strategy_schema=1 | explain_schema=1 | metrics_schema=1 | detectors=6 | presets_dir=./presets | notify_mode=all | provider=synthetic",
		b.Banner())
}
