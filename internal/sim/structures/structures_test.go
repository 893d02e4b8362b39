package structures

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadFS_ReadsSortedFilesAndDigest(t *testing.T) {
	fsys := fstest.MapFS{
		"s/b.json":   {Data: []byte(`{"id":"b","size":[1,1,1],"blocks":[{"pos":[0,0,0],"block":"stone"}]}`)},
		"s/a.json":   {Data: []byte(`{"id":"a","size":[2,1,3],"blocks":[]}`)},
		"s/notes.md": {Data: []byte(`ignored`)},
	}
	c, err := LoadFS(fsys, "s")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.IDs())
	require.Len(t, c.Digest, 64)

	d, ok := c.Lookup("a")
	require.True(t, ok)
	require.Equal(t, 3, d.SizeVec().Z)
}

func TestLoadFS_RejectsBlocksOutsideSize(t *testing.T) {
	fsys := fstest.MapFS{
		"s/bad.json": {Data: []byte(`{"id":"bad","size":[1,1,1],"blocks":[{"pos":[1,0,0],"block":"stone"}]}`)},
	}
	_, err := LoadFS(fsys, "s")
	require.ErrorContains(t, err, "outside size")
}

func TestLoadFS_RejectsDuplicateIDs(t *testing.T) {
	fsys := fstest.MapFS{
		"s/one.json": {Data: []byte(`{"id":"x","size":[1,1,1]}`)},
		"s/two.json": {Data: []byte(`{"id":"x","size":[1,1,1]}`)},
	}
	_, err := LoadFS(fsys, "s")
	require.ErrorContains(t, err, "duplicate id")
}
