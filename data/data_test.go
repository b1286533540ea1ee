package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFromJSONL(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "d.jsonl", "{\"x\":1}\n{\"x\":2}\n")

	d, err := FromJSONL("test", path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []string{"x"}, d.Keys)
	assert.Len(t, d.Hash, 64)
}

func TestFromJSONLRejectsMismatchedKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "d.jsonl", "{\"x\":1}\n{\"y\":2}\n")

	_, err := FromJSONL("test", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different keys")
}

func TestFromJSONLRejectsNonObjects(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "d.jsonl", "{\"x\":1}\n[1,2]\n")

	_, err := FromJSONL("test", path)
	require.Error(t, err)
}

func TestFromJSONLRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "d.jsonl", "")

	_, err := FromJSONL("test", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty dataset")
}

func TestHashIdempotent(t *testing.T) {
	dir := t.TempDir()
	p1 := writeJSONL(t, dir, "a.jsonl", "{\"x\":1}\n{\"x\":2}\n")
	p2 := writeJSONL(t, dir, "b.jsonl", "{\"x\":1}\n{\"x\":2}\n")

	d1, err := FromJSONL("test", p1)
	require.NoError(t, err)
	d2, err := FromJSONL("test", p2)
	require.NoError(t, err)
	assert.Equal(t, d1.Hash, d2.Hash)

	// Order matters.
	p3 := writeJSONL(t, dir, "c.jsonl", "{\"x\":2}\n{\"x\":1}\n")
	d3, err := FromJSONL("test", p3)
	require.NoError(t, err)
	assert.NotEqual(t, d1.Hash, d3.Hash)
}

func TestRegisterRoundTrip(t *testing.T) {
	root := t.TempDir()
	dir := t.TempDir()
	path := writeJSONL(t, dir, "d.jsonl", "{\"a\":\"b\",\"n\":1.50}\n{\"a\":\"c\",\"n\":2}\n")

	d, err := FromJSONL("qa", path)
	require.NoError(t, err)
	require.NoError(t, d.Register(root))

	// Registering again is idempotent.
	require.NoError(t, d.Register(root))

	loaded, err := FromLatest(root, "qa")
	require.NoError(t, err)
	assert.Equal(t, d.Hash, loaded.Hash)
	assert.Equal(t, d.Len(), loaded.Len())

	byHash, err := FromHash(root, "qa", d.Hash)
	require.NoError(t, err)
	assert.Equal(t, d.Hash, byHash.Hash)
}

func TestFromPointsMatchesFromJSONL(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "d.jsonl", "{\"x\":1}\n{\"x\":2}\n")

	d, err := FromJSONL("test", path)
	require.NoError(t, err)

	rebuilt, err := FromPoints("test", []string{"{\"x\":1}", "{\"x\":2}"})
	require.NoError(t, err)
	assert.Equal(t, d.Hash, rebuilt.Hash)
}
