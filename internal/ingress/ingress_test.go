package ingress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashStableAndSensitive(t *testing.T) {
	a := ContentHash([]byte("defmodule M do\nend\n"))
	b := ContentHash([]byte("defmodule M do\nend\n"))
	c := ContentHash([]byte("defmodule M do\n  def f(x), do: x\nend\n"))

	assert.Equal(t, a, b, "identical content must hash identically")
	assert.NotEqual(t, a, c, "different content must hash differently")
}

func TestDiscoverIncludeAndIgnoreGlobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib", "_build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "a.ex"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "a_test.exs"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "_build", "b.ex"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("r"), 0o644))

	files, err := Discover(dir, []string{"**/*.ex", "**/*.exs"}, []string{"**/_build/**"})
	require.Nil(t, err)
	require.Len(t, files, 2)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Contains(t, names, "a.ex")
	assert.Contains(t, names, "a_test.exs")
	assert.NotContains(t, names, "b.ex")
	assert.NotContains(t, names, "README.md")
}

func TestReadMissingFileIsResourceError(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.ex"))
	require.NotNil(t, err)
	assert.Equal(t, "resource_error", string(err.Kind))
}
