package store

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stationrt/station/pkg/types"
)

const defaultMaxLogSize = 10 * 1024 * 1024 // 10 MiB, §4.3

var baseLogColumns = []string{"entry_id", "timestamp", "level", "message"}

// LogReplicator enqueues a fire-and-forget replication of one log append to
// every currently-live peer, carrying the full entry body for dedup-append
// on arrival.
type LogReplicator interface {
	ReplicateLog(objectID string, entry types.LogEntry)
}

// SelfLogger is the per-object append-only log primitive described in
// §4.3: dynamically growing TSV columns, size-bounded rotation, and
// deduplicated replication keyed by a deterministic entry_id.
type SelfLogger struct {
	dataDir    string
	locker     *objectLocker
	replicator LogReplicator
	maxLogSize int64

	seenMu sync.Mutex
	seen   map[string]map[string]bool // objectID -> entry_id -> true, lazily loaded
}

// NewSelfLogger creates a self-logger rooted at dataDir/logs.
func NewSelfLogger(dataDir string, replicator LogReplicator) *SelfLogger {
	return &SelfLogger{
		dataDir:    dataDir,
		locker:     newObjectLocker(),
		replicator: replicator,
		maxLogSize: defaultMaxLogSize,
		seen:       make(map[string]map[string]bool),
	}
}

func (l *SelfLogger) dir(objectID string) string {
	return filepath.Join(l.dataDir, "logs", objectID)
}

func (l *SelfLogger) activePath(objectID string) string {
	return filepath.Join(l.dir(objectID), "log.tsv")
}

func entryID(timestamp float64, objectID, level, message string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%f|%s|%s|%s", timestamp, objectID, level, message)))
	return fmt.Sprintf("%x", h)[:16]
}

// Log writes one record and fire-and-forgets replication of it.
func (l *SelfLogger) Log(objectID, level, message string, fields map[string]string) (types.LogEntry, error) {
	unlock := l.locker.lock(objectID)
	defer unlock()

	ts := nowSeconds()
	entry := types.LogEntry{
		EntryID:   entryID(ts, objectID, level, message),
		Timestamp: ts,
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	if err := l.appendLocked(objectID, entry); err != nil {
		return entry, err
	}
	l.markSeen(objectID, entry.EntryID)
	if l.replicator != nil {
		l.replicator.ReplicateLog(objectID, entry)
	}
	return entry, nil
}

func (l *SelfLogger) Debug(objectID, message string, fields map[string]string) (types.LogEntry, error) {
	return l.Log(objectID, "debug", message, fields)
}
func (l *SelfLogger) Info(objectID, message string, fields map[string]string) (types.LogEntry, error) {
	return l.Log(objectID, "info", message, fields)
}
func (l *SelfLogger) Warning(objectID, message string, fields map[string]string) (types.LogEntry, error) {
	return l.Log(objectID, "warning", message, fields)
}
func (l *SelfLogger) Error(objectID, message string, fields map[string]string) (types.LogEntry, error) {
	return l.Log(objectID, "error", message, fields)
}
func (l *SelfLogger) Critical(objectID, message string, fields map[string]string) (types.LogEntry, error) {
	return l.Log(objectID, "critical", message, fields)
}

// appendLocked rotates the active file if it has grown past maxLogSize,
// grows the header to cover any new extension fields, and appends one row.
// Existing rows are never rewritten, so they may be shorter than the
// current header (§4.3 "reads tolerate ragged rows").
func (l *SelfLogger) appendLocked(objectID string, entry types.LogEntry) error {
	if err := os.MkdirAll(l.dir(objectID), 0o755); err != nil {
		return err
	}
	path := l.activePath(objectID)

	if info, err := os.Stat(path); err == nil && info.Size() >= l.maxLogSize {
		archive := filepath.Join(l.dir(objectID), fmt.Sprintf("log-%s.tsv", time.Now().Format("20060102-150405")))
		if err := os.Rename(path, archive); err != nil {
			return err
		}
	}

	header, rest, err := readHeaderAndBody(path)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		header = append([]string{}, baseLogColumns...)
	}
	header = mergeColumns(header, entry.Fields)

	row := make([]string, len(header))
	row[0], row[1], row[2], row[3] = entry.EntryID, strconv.FormatFloat(entry.Timestamp, 'f', -1, 64), entry.Level, entry.Message
	for i := 4; i < len(header); i++ {
		row[i] = entry.Fields[header[i]]
	}

	var b strings.Builder
	b.WriteString(strings.Join(header, "\t"))
	b.WriteString("\n")
	for _, line := range rest {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(strings.Join(row, "\t"))
	b.WriteString("\n")

	return atomicWriteFile(path, []byte(b.String()), 0o644)
}

func mergeColumns(header []string, fields map[string]string) []string {
	if len(fields) == 0 {
		return header
	}
	known := make(map[string]bool, len(header))
	for _, c := range header {
		known[c] = true
	}
	var extra []string
	for k := range fields {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return header
	}
	sort.Strings(extra)
	return append(append([]string{}, header...), extra...)
}

// readHeaderAndBody returns the header row (if any) and every data row
// verbatim, without parsing them — appendLocked only ever needs to add to
// the header and append a new row.
func readHeaderAndBody(path string) (header []string, body []string, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if first {
			header = strings.Split(line, "\t")
			first = false
			continue
		}
		body = append(body, line)
	}
	return header, body, scanner.Err()
}

func parseLogFile(path string) ([]types.LogEntry, error) {
	header, body, err := readHeaderAndBody(path)
	if err != nil || len(header) == 0 {
		return nil, err
	}
	entries := make([]types.LogEntry, 0, len(body))
	for _, line := range body {
		fields := strings.Split(line, "\t")
		entry := types.LogEntry{Fields: map[string]string{}}
		for i, col := range header {
			if i >= len(fields) {
				break
			}
			switch col {
			case "entry_id":
				entry.EntryID = fields[i]
			case "timestamp":
				ts, _ := strconv.ParseFloat(fields[i], 64)
				entry.Timestamp = ts
			case "level":
				entry.Level = fields[i]
			case "message":
				entry.Message = fields[i]
			default:
				entry.Fields[col] = fields[i]
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetLogs reads the active file and every archive, oldest archive first and
// the active file last, applying the optional level filter, field filters
// and limit/offset.
func (l *SelfLogger) GetLogs(objectID string, level string, limit, offset int, fieldFilters map[string]string) ([]types.LogEntry, error) {
	dir := l.dir(objectID)
	entries, err := l.collect(dir)
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if level != "" && e.Level != level {
			continue
		}
		match := true
		for k, v := range fieldFilters {
			if e.Fields[k] != v {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		filtered = append(filtered, e)
	}

	if offset > 0 {
		if offset >= len(filtered) {
			return []types.LogEntry{}, nil
		}
		filtered = filtered[offset:]
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (l *SelfLogger) collect(dir string) ([]types.LogEntry, error) {
	names, err := filepath.Glob(filepath.Join(dir, "log-*.tsv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names) // archive names embed a sortable timestamp
	names = append(names, filepath.Join(dir, "log.tsv"))

	var all []types.LogEntry
	for _, name := range names {
		entries, err := parseLogFile(name)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func (l *SelfLogger) markSeen(objectID, id string) {
	l.seenMu.Lock()
	defer l.seenMu.Unlock()
	m, ok := l.seen[objectID]
	if !ok {
		m = make(map[string]bool)
		l.seen[objectID] = m
	}
	m[id] = true
}

func (l *SelfLogger) hasSeen(objectID, id string) (bool, error) {
	l.seenMu.Lock()
	m, ok := l.seen[objectID]
	l.seenMu.Unlock()
	if ok {
		if m[id] {
			return true, nil
		}
		return false, nil
	}

	// Lazily build the dedup index for this object from disk.
	entries, err := l.collect(l.dir(objectID))
	if err != nil {
		return false, err
	}
	m = make(map[string]bool, len(entries))
	for _, e := range entries {
		m[e.EntryID] = true
	}
	l.seenMu.Lock()
	l.seen[objectID] = m
	l.seenMu.Unlock()
	return m[id], nil
}

// ApplyReplicated is the append_log ingress handler (§6.2): dedup by
// entry_id. Returns applied=false (the sender should treat the response as
// "duplicate", which is still a success) when the entry already exists.
func (l *SelfLogger) ApplyReplicated(objectID string, entry types.LogEntry) (applied bool, err error) {
	unlock := l.locker.lock(objectID)
	defer unlock()

	seen, err := l.hasSeen(objectID, entry.EntryID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := l.appendLocked(objectID, entry); err != nil {
		return false, err
	}
	l.markSeen(objectID, entry.EntryID)
	return true, nil
}
