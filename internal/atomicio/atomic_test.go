package atomicio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")

	require.NoError(t, WriteFileAtomic(path, []byte("v1")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	// Overwrite replaces the whole content.
	require.NoError(t, WriteFileAtomic(path, []byte("version-2")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "version-2", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"a": 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"a": 1}`, string(data))
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, AppendLine(path, []byte(`{"n":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"n":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(data))
}

func TestPurgeTemp(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tmp"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.json.123.tmp"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.json"), nil, 0o644))

	require.Equal(t, 2, PurgeTemp(dir))
	_, err := os.Stat(filepath.Join(dir, "keep.json"))
	require.NoError(t, err)
	require.Equal(t, 0, PurgeTemp(dir))
}
