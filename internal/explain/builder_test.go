package explain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPairOK(t *testing.T) {
	p := BuildPairOK("BTCUSDT", "M5", "scan-1", "trend-a", 1.25, 2.5,
		map[string]any{"atr": 0.45}, nil)

	require.Equal(t, SchemaVersion, p.SchemaVersion)
	require.Equal(t, StatusOK, p.Status)
	require.Equal(t, ReasonOK, p.Reason)
	require.Equal(t, "trend-a", p.StrategyID)
	require.Equal(t, 1.25, p.Details["score"])
	require.Equal(t, 2.5, p.Details["rr"])
	require.Equal(t, 0.45, p.Evidence["atr"])
	require.Contains(t, p.Summary, "setup accepted")
}

func TestBuildPairNone(t *testing.T) {
	p := BuildPairNone("BTCUSDT", "M5", "scan-1", "trend-a", ReasonDataGap,
		map[string]any{"have_m5": 10}, nil)

	require.Equal(t, StatusNone, p.Status)
	require.Equal(t, ReasonDataGap, p.Reason)
	require.Equal(t, 10, p.Details["have_m5"])
	require.NotNil(t, p.Evidence)
	require.Contains(t, p.Summary, ReasonDataGap)
}

func TestBuildPairNoneCoercesUnknownReason(t *testing.T) {
	p := BuildPairNone("BTCUSDT", "M5", "scan-1", "trend-a", "WAT", nil, nil)
	require.Equal(t, ReasonPrimitiveError, p.Reason)
	require.Equal(t, "WAT", p.Details["original_reason"])

	// OK is not a valid NONE reason either.
	p = BuildPairNone("BTCUSDT", "M5", "scan-1", "trend-a", ReasonOK, nil, nil)
	require.Equal(t, ReasonPrimitiveError, p.Reason)
	require.Equal(t, ReasonOK, p.Details["original_reason"])
}

func TestKnownReason(t *testing.T) {
	for _, code := range []string{
		ReasonOK, ReasonDataGap, ReasonNoM5, ReasonRegimeBlocked,
		ReasonNoDetectorsForRegime, ReasonNoHits, ReasonConflictScore,
		ReasonScoreBelowMin, ReasonRRBelowMin, ReasonSetupBuildFailed,
		ReasonPrimitiveError, ReasonCooldownActive, ReasonDailyLimitReached,
		ReasonConflictDirection, ReasonNoStrategy, ReasonProfileInvalid,
	} {
		require.True(t, KnownReason(code), code)
	}
	require.False(t, KnownReason("COOLDOWN"))
	require.False(t, KnownReason(""))
}
