package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestCatalog(t *testing.T, dir string) *Catalog {
	t.Helper()
	c, err := NewCatalog(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalogScansImagesWithSidecars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "palette.png", "fake image bytes")
	writeFile(t, dir, "palette.txt", "the brand's color palette\n")
	writeFile(t, dir, "logo.jpg", "fake image bytes")
	writeFile(t, dir, "notes.md", "not an image")

	c := newTestCatalog(t, dir)
	refs := c.Assets()

	require.Len(t, refs, 2)
	assert.Equal(t, filepath.Join(dir, "logo.jpg"), refs[0].Path)
	assert.Empty(t, refs[0].Description)
	assert.Equal(t, filepath.Join(dir, "palette.png"), refs[1].Path)
	assert.Equal(t, "the brand's color palette", refs[1].Description)
}

func TestCatalogLookup(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ref.png", "x")

	c := newTestCatalog(t, dir)

	ref, ok := c.Lookup(path)
	require.True(t, ok)
	assert.Equal(t, path, ref.Path)

	_, ok = c.Lookup(filepath.Join(dir, "missing.png"))
	assert.False(t, ok)
}

func TestCatalogPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	c := newTestCatalog(t, dir)
	require.Empty(t, c.Assets())

	writeFile(t, dir, "late.png", "x")

	require.Eventually(t, func() bool {
		return len(c.Assets()) == 1
	}, 3*time.Second, 20*time.Millisecond, "watcher should pick up the new image")
}

func TestCatalogDropsRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gone.png", "x")

	c := newTestCatalog(t, dir)
	require.Len(t, c.Assets(), 1)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return len(c.Assets()) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCatalogCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "assets")
	c := newTestCatalog(t, dir)
	assert.Empty(t, c.Assets())
	assert.DirExists(t, dir)
}

func TestCatalogAssetsReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", "x")

	c := newTestCatalog(t, dir)
	refs := c.Assets()
	require.Len(t, refs, 1)
	refs[0].Path = "mutated"

	fresh := c.Assets()
	assert.NotEqual(t, "mutated", fresh[0].Path)
}
