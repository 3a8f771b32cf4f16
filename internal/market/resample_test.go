package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResampleH1Bucketing(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := series(start, 24) // two full hours

	out := Resample(src, H1)
	require.Len(t, out, 2)

	first := out[0]
	require.Equal(t, start, first.Time)
	require.Equal(t, src[0].Open, first.Open)
	require.Equal(t, src[11].Close, first.Close)
	require.Equal(t, src[11].High, first.High) // rising series: last bar has the extreme
	require.Equal(t, src[0].Low, first.Low)
	require.Equal(t, 12.0, first.Volume)
}

func TestResampleEmitsFormingBar(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := series(start, 14) // one full hour plus 10 minutes

	out := Resample(src, H1)
	require.Len(t, out, 2)
	require.Equal(t, start.Add(time.Hour), out[1].Time)
	require.Equal(t, src[13].Close, out[1].Close)
}

func TestResampleMisalignedStart(t *testing.T) {
	// A series starting mid-bucket still aligns buckets to the hour.
	start := time.Date(2026, 3, 1, 10, 35, 0, 0, time.UTC)
	src := series(start, 6)

	out := Resample(src, H1)
	require.Len(t, out, 2)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), out[0].Time)
	require.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), out[1].Time)
}

func TestResampleM5CopiesInput(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	src := series(start, 3)
	out := Resample(src, M5)
	require.Equal(t, src, out)
	out[0].Close = -1
	require.NotEqual(t, src[0].Close, out[0].Close)
}

func TestResampleEmptyAndInvalidTF(t *testing.T) {
	require.Nil(t, Resample(nil, H1))
	require.Nil(t, Resample(series(time.Now(), 3), Timeframe("H2")))
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"M5": M5, "m5": M5, "m15": M15,
		"H1": H1, "h1": H1, "h4": H4, "D1": D1, "d1": D1,
	}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseTimeframe("H2")
	require.Error(t, err)
}
