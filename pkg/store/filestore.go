package store

import (
	"os"
	"path/filepath"

	"github.com/stationrt/station/pkg/types"
)

// FileReplicator enqueues a fire-and-forget multipart replication of one
// file write to every currently-live peer.
type FileReplicator interface {
	ReplicateFile(objectID, filename string, data []byte)
}

// FileStore is the per-object opaque blob store described in §4.5:
// overwrite semantics, no timestamp comparison, last writer wins.
type FileStore struct {
	dataDir    string
	replicator FileReplicator
}

func NewFileStore(dataDir string, replicator FileReplicator) *FileStore {
	return &FileStore{dataDir: dataDir, replicator: replicator}
}

func (fs *FileStore) dir(objectID string) string {
	return filepath.Join(fs.dataDir, "files", objectID)
}

func (fs *FileStore) path(objectID, filename string) string {
	return filepath.Join(fs.dir(objectID), filename)
}

// Put writes filename atomically then replicates it to every live peer.
func (fs *FileStore) Put(objectID, filename string, data []byte) error {
	if err := atomicWriteFile(fs.path(objectID, filename), data, 0o644); err != nil {
		return err
	}
	if fs.replicator != nil {
		fs.replicator.ReplicateFile(objectID, filename, data)
	}
	return nil
}

// Get returns filename's bytes, or ErrFileNotFound.
func (fs *FileStore) Get(objectID, filename string) ([]byte, error) {
	data, err := os.ReadFile(fs.path(objectID, filename))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	return data, err
}

// Delete removes filename locally only. Cross-cluster delete semantics are
// undefined by §4.5 and are not implemented here.
func (fs *FileStore) Delete(objectID, filename string) error {
	err := os.Remove(fs.path(objectID, filename))
	if os.IsNotExist(err) {
		return ErrFileNotFound
	}
	return err
}

// Exists reports whether filename is present.
func (fs *FileStore) Exists(objectID, filename string) bool {
	_, err := os.Stat(fs.path(objectID, filename))
	return err == nil
}

// List returns metadata for every file belonging to objectID.
func (fs *FileStore) List(objectID string) ([]types.FileMeta, error) {
	entries, err := os.ReadDir(fs.dir(objectID))
	if os.IsNotExist(err) {
		return []types.FileMeta{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]types.FileMeta, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, types.FileMeta{Name: e.Name(), Size: info.Size(), Mtime: info.ModTime()})
	}
	return out, nil
}

// ApplyReplicated is the replicate_file ingress handler (§6.2): overwrite,
// no timestamp comparison.
func (fs *FileStore) ApplyReplicated(objectID, filename string, data []byte) error {
	return atomicWriteFile(fs.path(objectID, filename), data, 0o644)
}
