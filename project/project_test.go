package project

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndRoot(t *testing.T) {
	dir := t.TempDir()

	root, err := Init(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, SpecFileName))
	assert.DirExists(t, filepath.Join(root, DataDirName))

	// Init refuses to overwrite an existing specification.
	_, err = Init(dir)
	require.Error(t, err)

	t.Setenv("DUST_PROJECT_DIR", dir)
	resolved, err := Root()
	require.NoError(t, err)
	assert.Equal(t, dir, resolved)
}

func TestRootRequiresSpec(t *testing.T) {
	t.Setenv("DUST_PROJECT_DIR", t.TempDir())
	_, err := Root()
	require.Error(t, err)
	assert.Contains(t, err.Error(), SpecFileName)
}

func TestSaveLoadID(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, SaveID(dir, Project{ID: 7}))
	p, err := LoadID(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)

	_, err = LoadID(t.TempDir())
	require.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("r", SpecFileName), SpecPath("r"))
	assert.Equal(t, filepath.Join("r", StoreFileName), StorePath("r"))
	assert.Equal(t, filepath.Join("r", DataDirName, "qa"), DataDir("r", "qa"))
}
