package store

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stationrt/station/pkg/types"
)

var versionMetaHeader = []string{"version_id", "timestamp", "author", "message", "hash"}

// VersionStore is the per-object monotonic version history described in
// §4.4: a metadata.tsv row per version plus one content file per version.
type VersionStore struct {
	dataDir string
	locker  *objectLocker
}

func NewVersionStore(dataDir string) *VersionStore {
	return &VersionStore{dataDir: dataDir, locker: newObjectLocker()}
}

func (v *VersionStore) dir(objectID string) string {
	return filepath.Join(v.dataDir, "versions", objectID)
}

func (v *VersionStore) metaPath(objectID string) string {
	return filepath.Join(v.dir(objectID), "metadata.tsv")
}

func (v *VersionStore) contentPath(objectID string, id int) string {
	return filepath.Join(v.dir(objectID), fmt.Sprintf("v%d.txt", id))
}

func (v *VersionStore) readMeta(objectID string) ([]types.VersionMeta, error) {
	f, err := os.Open(v.metaPath(objectID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []types.VersionMeta
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if first {
			first = false
			continue // header
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		id, _ := strconv.Atoi(fields[0])
		ts, _ := strconv.ParseFloat(fields[1], 64)
		rows = append(rows, types.VersionMeta{
			VersionID: id,
			Timestamp: ts,
			Author:    fields[2],
			Message:   fields[3],
			Hash:      fields[4],
		})
	}
	return rows, scanner.Err()
}

func (v *VersionStore) writeMeta(objectID string, rows []types.VersionMeta) error {
	var b strings.Builder
	b.WriteString(strings.Join(versionMetaHeader, "\t"))
	b.WriteString("\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%d\t%s\t%s\t%s\t%s\n",
			r.VersionID, strconv.FormatFloat(r.Timestamp, 'f', -1, 64), r.Author, r.Message, r.Hash)
	}
	return atomicWriteFile(v.metaPath(objectID), []byte(b.String()), 0o644)
}

// SaveVersion assigns version_id = max_existing + 1 (or 1), writes the
// content blob and appends a metadata row.
func (v *VersionStore) SaveVersion(objectID, content, author, message string) (int, error) {
	unlock := v.locker.lock(objectID)
	defer unlock()

	rows, err := v.readMeta(objectID)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, r := range rows {
		if r.VersionID >= next {
			next = r.VersionID + 1
		}
	}

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	if err := atomicWriteFile(v.contentPath(objectID, next), []byte(content), 0o644); err != nil {
		return 0, err
	}

	rows = append(rows, types.VersionMeta{
		VersionID: next,
		Timestamp: nowSeconds(),
		Author:    author,
		Message:   message,
		Hash:      hash,
	})
	if err := v.writeMeta(objectID, rows); err != nil {
		return 0, err
	}
	return next, nil
}

// GetVersion returns the version with the given id, or the latest if id is
// 0. Returns ErrVersionNotFound if the id does not exist (or there is no
// history at all, for id == 0).
func (v *VersionStore) GetVersion(objectID string, id int) (types.Version, error) {
	rows, err := v.readMeta(objectID)
	if err != nil {
		return types.Version{}, err
	}
	var meta *types.VersionMeta
	if id == 0 {
		for i := range rows {
			if meta == nil || rows[i].VersionID > meta.VersionID {
				meta = &rows[i]
			}
		}
	} else {
		for i := range rows {
			if rows[i].VersionID == id {
				meta = &rows[i]
				break
			}
		}
	}
	if meta == nil {
		return types.Version{}, ErrVersionNotFound
	}

	content, err := os.ReadFile(v.contentPath(objectID, meta.VersionID))
	if err != nil {
		return types.Version{}, err
	}
	return types.Version{VersionMeta: *meta, Content: string(content)}, nil
}

// GetHistory returns version metadata (no content), newest first.
func (v *VersionStore) GetHistory(objectID string, limit, offset int) ([]types.VersionMeta, error) {
	rows, err := v.readMeta(objectID)
	if err != nil {
		return nil, err
	}
	out := make([]types.VersionMeta, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	if offset > 0 {
		if offset >= len(out) {
			return []types.VersionMeta{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Rollback resolves to_version's content and saves it as a fresh version,
// leaving history intact. Fails with ErrVersionNotFound if to_version is
// absent.
func (v *VersionStore) Rollback(objectID string, toVersion int, author, message string) (int, error) {
	target, err := v.GetVersion(objectID, toVersion)
	if err != nil {
		return 0, err
	}
	return v.SaveVersion(objectID, target.Content, author, message)
}
