package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stationrt/station/pkg/types"
)

// StateReplicator enqueues a fire-and-forget replication of one state
// mutation to every currently-live peer. The replication client pool
// (pkg/replication) implements this.
type StateReplicator interface {
	ReplicateState(objectID, key, value string, timestamp float64)
}

// StateStore is the per-object key/value primitive described in §4.2: one
// TSV file per object, rewritten atomically on every mutation, LWW on
// incoming replication.
type StateStore struct {
	dataDir    string
	locker     *objectLocker
	replicator StateReplicator
}

// NewStateStore creates a state store rooted at dataDir/state. replicator
// may be nil, in which case mutations are local-only (useful for tests and
// for single-station deployments).
func NewStateStore(dataDir string, replicator StateReplicator) *StateStore {
	return &StateStore{
		dataDir:    dataDir,
		locker:     newObjectLocker(),
		replicator: replicator,
	}
}

func (s *StateStore) path(objectID string) string {
	return filepath.Join(s.dataDir, "state", objectID, "state.tsv")
}

// readAll loads every key's (value, timestamp) pair, tolerating legacy
// two-field rows by treating their timestamp as 0, as required by §9.
func (s *StateStore) readAll(objectID string) (map[string]types.StateEntry, error) {
	entries := make(map[string]types.StateEntry)

	f, err := os.Open(s.path(objectID))
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		switch len(fields) {
		case 2:
			entries[fields[0]] = types.StateEntry{Key: fields[0], Value: fields[1], Timestamp: 0}
		case 3:
			ts, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				ts = 0
			}
			entries[fields[0]] = types.StateEntry{Key: fields[0], Value: fields[1], Timestamp: ts}
		default:
			continue
		}
	}
	return entries, scanner.Err()
}

func (s *StateStore) writeAll(objectID string, entries map[string]types.StateEntry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", e.Key, e.Value, strconv.FormatFloat(e.Timestamp, 'f', -1, 64))
	}
	return atomicWriteFile(s.path(objectID), []byte(b.String()), 0o644)
}

// Get returns the value for key, or def if the key has no row. A tombstoned
// key has a row holding the empty string, so Get returns "" for it, not def.
func (s *StateStore) Get(objectID, key, def string) (string, error) {
	entries, err := s.readAll(objectID)
	if err != nil {
		return "", err
	}
	if e, ok := entries[key]; ok {
		return e.Value, nil
	}
	return def, nil
}

// GetAll returns every key/value pair currently stored for the object.
func (s *StateStore) GetAll(objectID string) (map[string]string, error) {
	entries, err := s.readAll(objectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for k, e := range entries {
		out[k] = e.Value
	}
	return out, nil
}

// Set persists value locally with timestamp = now, then enqueues
// fire-and-forget replication to every live peer.
func (s *StateStore) Set(objectID, key, value string) error {
	unlock := s.locker.lock(objectID)
	defer unlock()

	entries, err := s.readAll(objectID)
	if err != nil {
		return err
	}
	ts := nowSeconds()
	entries[key] = types.StateEntry{Key: key, Value: value, Timestamp: ts}
	if err := s.writeAll(objectID, entries); err != nil {
		return err
	}
	if s.replicator != nil {
		s.replicator.ReplicateState(objectID, key, value, ts)
	}
	return nil
}

// Delete writes a tombstone row (empty value, timestamp = now). The source
// system never replicated deletes (§9 open question); this implementation
// makes that explicit but chooses to replicate the tombstone like any other
// state write, since it is simply a write whose value happens to be empty.
func (s *StateStore) Delete(objectID, key string) error {
	unlock := s.locker.lock(objectID)
	defer unlock()

	entries, err := s.readAll(objectID)
	if err != nil {
		return err
	}
	ts := nowSeconds()
	entries[key] = types.StateEntry{Key: key, Value: "", Timestamp: ts}
	if err := s.writeAll(objectID, entries); err != nil {
		return err
	}
	if s.replicator != nil {
		s.replicator.ReplicateState(objectID, key, "", ts)
	}
	return nil
}

// ApplyReplicated is the replicate_state ingress handler (§6.2): LWW
// compare against the locally stored timestamp. Ties are rejected (older
// preserved) to avoid flapping, per §4.2.
func (s *StateStore) ApplyReplicated(objectID, key, value string, timestamp float64) (applied bool, err error) {
	unlock := s.locker.lock(objectID)
	defer unlock()

	entries, err := s.readAll(objectID)
	if err != nil {
		return false, err
	}
	if existing, ok := entries[key]; ok && timestamp <= existing.Timestamp {
		return false, nil
	}
	entries[key] = types.StateEntry{Key: key, Value: value, Timestamp: timestamp}
	if err := s.writeAll(objectID, entries); err != nil {
		return false, err
	}
	return true, nil
}
