package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinRegistry(t *testing.T) {
	r := Builtin()
	require.Equal(t, 6, r.Len())
	require.Equal(t, []string{
		"breakout", "ema_pullback", "momentum_shift",
		"range_bounce", "trend_follow", "volume_spike",
	}, r.Names())

	d, ok := r.Get("trend_follow")
	require.True(t, ok)
	require.Equal(t, "trend", d.Family())

	_, ok = r.Get("no_such_detector")
	require.False(t, ok)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Breakout{}))
	require.Error(t, r.Register(&Breakout{}))
	require.Equal(t, 1, r.Len())
}

func TestDocs(t *testing.T) {
	r := Builtin()

	slim := r.Docs(false)
	require.Len(t, slim, 6)
	require.Equal(t, "breakout", slim[0].Name)
	require.Empty(t, slim[0].Doc)
	require.Nil(t, slim[0].ParamsSchema)

	full := r.Docs(true)
	require.NotEmpty(t, full[0].Doc)
	require.NotEmpty(t, full[0].ParamsSchema)
}

func TestContextParam(t *testing.T) {
	ctx := Context{Params: map[string]float64{"lookback": 30}}
	require.Equal(t, 30.0, ctx.Param("lookback", 20))
	require.Equal(t, 20.0, ctx.Param("missing", 20))
}

func TestSideOpposite(t *testing.T) {
	require.Equal(t, Sell, Buy.Opposite())
	require.Equal(t, Buy, Sell.Opposite())
}
