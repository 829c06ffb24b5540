package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/stationrt/station/pkg/registry"
	"github.com/stationrt/station/pkg/types"
)

// Replicator fans a single local mutation out to every currently-live peer
// by submitting one pool task per peer. It implements
// store.StateReplicator, store.LogReplicator and store.FileReplicator.
type Replicator struct {
	pool       *Pool
	registry   *registry.Registry
	stationID  string
	httpClient *http.Client
}

func NewReplicator(pool *Pool, reg *registry.Registry, stationID string) *Replicator {
	return &Replicator{
		pool:       pool,
		registry:   reg,
		stationID:  stationID,
		httpClient: http.DefaultClient,
	}
}

// ReplicateState implements store.StateReplicator.
func (r *Replicator) ReplicateState(objectID, key, value string, timestamp float64) {
	for _, peer := range r.registry.LivePeers() {
		peer := peer
		r.pool.submit(task{
			kind: KindState,
			send: func(ctx context.Context) error {
				body, _ := json.Marshal(map[string]any{
					"object_id":      objectID,
					"key":            key,
					"value":          value,
					"timestamp":      timestamp,
					"source_station": r.stationID,
				})
				return r.post(ctx, peer.URL+"/cluster/replicate", "application/json", bytes.NewReader(body))
			},
		})
	}
}

// ReplicateLog implements store.LogReplicator.
func (r *Replicator) ReplicateLog(objectID string, entry types.LogEntry) {
	for _, peer := range r.registry.LivePeers() {
		peer := peer
		r.pool.submit(task{
			kind: KindLog,
			send: func(ctx context.Context) error {
				body, _ := json.Marshal(map[string]any{
					"object_id":      objectID,
					"entry_id":       entry.EntryID,
					"log_entry":      entry,
					"source_station": r.stationID,
				})
				return r.post(ctx, peer.URL+"/cluster/append_log", "application/json", bytes.NewReader(body))
			},
		})
	}
}

// ReplicateFile implements store.FileReplicator, sending a multipart
// upload to the replicate_file ingress (§6.2).
func (r *Replicator) ReplicateFile(objectID, filename string, data []byte) {
	for _, peer := range r.registry.LivePeers() {
		peer := peer
		r.pool.submit(task{
			kind: KindFile,
			send: func(ctx context.Context) error {
				var buf bytes.Buffer
				w := multipart.NewWriter(&buf)
				_ = w.WriteField("object_id", objectID)
				_ = w.WriteField("filename", filename)
				_ = w.WriteField("source_station", r.stationID)
				part, err := w.CreateFormFile("file", filename)
				if err != nil {
					return err
				}
				if _, err := part.Write(data); err != nil {
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
				return r.post(ctx, peer.URL+"/cluster/replicate_file", w.FormDataContentType(), &buf)
			},
		})
	}
}

func (r *Replicator) post(ctx context.Context, url, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	return nil
}
