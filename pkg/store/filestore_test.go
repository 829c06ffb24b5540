package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFileReplicator struct {
	objectID, filename string
	data               []byte
}

func (f *fakeFileReplicator) ReplicateFile(objectID, filename string, data []byte) {
	f.objectID, f.filename, f.data = objectID, filename, data
}

func TestFileStorePutThenGet(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)

	require.NoError(t, fs.Put("obj", "a.png", []byte{1, 2, 3}))

	data, err := fs.Get("obj", "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestFileStoreGetMissing(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	_, err := fs.Get("obj", "missing.bin")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileStorePutReplicates(t *testing.T) {
	rep := &fakeFileReplicator{}
	fs := NewFileStore(t.TempDir(), rep)
	require.NoError(t, fs.Put("obj", "a.bin", []byte("hi")))
	assert.Equal(t, "obj", rep.objectID)
	assert.Equal(t, "a.bin", rep.filename)
	assert.Equal(t, []byte("hi"), rep.data)
}

func TestFileStoreOverwriteIsLastWriterWins(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	require.NoError(t, fs.Put("obj", "a.txt", []byte("first")))
	require.NoError(t, fs.Put("obj", "a.txt", []byte("second")))

	data, err := fs.Get("obj", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFileStoreListAndExists(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	require.NoError(t, fs.Put("obj", "a.txt", []byte("x")))
	require.NoError(t, fs.Put("obj", "b.txt", []byte("yy")))

	assert.True(t, fs.Exists("obj", "a.txt"))
	assert.False(t, fs.Exists("obj", "missing.txt"))

	list, err := fs.List("obj")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestFileStoreDelete(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	require.NoError(t, fs.Put("obj", "a.txt", []byte("x")))
	require.NoError(t, fs.Delete("obj", "a.txt"))
	assert.False(t, fs.Exists("obj", "a.txt"))
}

func TestFileStoreApplyReplicatedOverwrites(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	require.NoError(t, fs.ApplyReplicated("obj", "a.txt", []byte("from-peer")))
	data, err := fs.Get("obj", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "from-peer", string(data))
}
