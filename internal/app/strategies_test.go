package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantive/signalscan/internal/patch"
	"github.com/quantive/signalscan/internal/strategy"
	"github.com/quantive/signalscan/internal/user"
)

const sharedPack = `{
	"schema_version": 1,
	"strategies": [
		{"strategy_id": "shared-trend", "trend_tf": "H1", "entry_tf": "M5", "detectors": ["trend_follow"]}
	]
}`

const userPack = `{
	"schema_version": 1,
	"strategies": [
		{"strategy_id": "own-breakout", "trend_tf": "H4", "entry_tf": "M5", "detectors": ["breakout"]}
	]
}`

func testManager(t *testing.T) (*StrategyManager, string) {
	t.Helper()
	dir := t.TempDir()
	resolver := strategy.NewResolver([]string{"trend_follow", "breakout"}, nil)
	m := NewStrategyManager(dir, resolver, strategy.LoaderConfig{AutofixThreshold: 0.85}, nil)
	return m, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSharedFallback(t *testing.T) {
	m, dir := testManager(t)
	writeFile(t, filepath.Join(dir, "strategies.json"), sharedPack)
	writeFile(t, filepath.Join(dir, "u2.json"), userPack)

	users := []user.User{{ID: "u1"}, {ID: "u2"}}
	m.Reload(users)

	// u1 has no pack file and scans the shared default.
	require.Equal(t, "shared-trend", m.For("u1")[0].StrategyID)
	require.Equal(t, "own-breakout", m.For("u2")[0].StrategyID)

	require.Len(t, m.All(), 2)
	loaded, invalid, unknown := m.Health()
	require.Equal(t, 2, loaded)
	require.Empty(t, invalid)
	require.Zero(t, unknown)
}

func TestExplicitStrategiesFile(t *testing.T) {
	m, dir := testManager(t)
	custom := filepath.Join(dir, "custom-pack.json")
	writeFile(t, custom, userPack)

	m.Reload([]user.User{{ID: "u1", StrategiesFile: custom}})
	require.Equal(t, "own-breakout", m.For("u1")[0].StrategyID)
}

func TestReloadReportsInvalidAndUnknown(t *testing.T) {
	m, dir := testManager(t)
	writeFile(t, filepath.Join(dir, "strategies.json"), `{
		"schema_version": 1,
		"strategies": [
			{"strategy_id": "bad", "trend_tf": "H9", "entry_tf": "M5", "detectors": ["trend_follow"]},
			{"strategy_id": "ok", "trend_tf": "H1", "entry_tf": "M5", "detectors": ["trend_follow", "no_such"]}
		]
	}`)

	m.Reload(nil)
	loaded, invalid, unknown := m.Health()
	require.Equal(t, 1, loaded)
	require.Equal(t, []string{"shared/bad"}, invalid)
	require.Equal(t, 1, unknown)
}

func TestReloadRegistersFixSuggestions(t *testing.T) {
	dir := t.TempDir()
	reg, err := patch.OpenRegistry(filepath.Join(dir, "suggestions.json"))
	require.NoError(t, err)
	resolver := strategy.NewResolver([]string{"trend_follow", "breakout"}, nil)
	m := NewStrategyManager(dir, resolver, strategy.LoaderConfig{AutofixThreshold: 0.85}, reg)

	writeFile(t, filepath.Join(dir, "strategies.json"), `{
		"schema_version": 1,
		"strategies": [
			{"strategy_id": "a", "trend_tf": "H1", "entry_tf": "M5", "detectors": ["breakoot"]}
		]
	}`)
	m.Reload(nil)

	sugs := reg.List()
	require.Len(t, sugs, 1)
	require.Equal(t, "breakoot", sugs[0].Before)
	require.Equal(t, "breakout", sugs[0].After)
	require.Equal(t, filepath.Join(dir, "strategies.json"), sugs[0].FilePath)

	// Reload does not duplicate the suggestion.
	m.Reload(nil)
	require.Len(t, reg.List(), 1)
}

func TestValidateFile(t *testing.T) {
	m, dir := testManager(t)
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"strategies": []}`)
	errs := m.ValidateFile(bad)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "SCHEMA_VERSION_MISSING")

	good := filepath.Join(dir, "good.json")
	writeFile(t, good, sharedPack)
	require.Empty(t, m.ValidateFile(good))
}

func TestReplaceShared(t *testing.T) {
	m, dir := testManager(t)
	writeFile(t, filepath.Join(dir, "strategies.json"), sharedPack)
	users := []user.User{{ID: "u1"}}
	m.Reload(users)

	// Invalid replacement leaves the current pack in place.
	errs := m.ReplaceShared([]byte(`{"schema_version": 9, "strategies": []}`), users)
	require.NotEmpty(t, errs)
	require.Equal(t, "shared-trend", m.For("u1")[0].StrategyID)

	errs = m.ReplaceShared([]byte(userPack), users)
	require.Empty(t, errs)
	require.Equal(t, "own-breakout", m.For("u1")[0].StrategyID)

	// The temp validation file is cleaned up.
	_, err := os.Stat(m.SharedPackPath() + ".incoming")
	require.True(t, os.IsNotExist(err))
}
