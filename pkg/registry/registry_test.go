package registry

import (
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationrt/station/pkg/types"
)

func TestRegistryUpsertAndGet(t *testing.T) {
	r := New(t.TempDir(), "station1", true)
	require.NoError(t, r.Upsert(types.Station{StationID: "station2", Host: "h", Port: 8001, LastHeartbeat: nowSeconds()}))

	st, ok := r.Get("station2")
	require.True(t, ok)
	assert.Equal(t, "h", st.Host)
}

func TestRegistryPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	r1 := New(dir, "station1", true)
	require.NoError(t, r1.Upsert(types.Station{StationID: "station2", Host: "h", Port: 8001, LastHeartbeat: nowSeconds()}))

	r2 := New(dir, "station1", true)
	st, ok := r2.Get("station2")
	require.True(t, ok)
	assert.Equal(t, 8001, st.Port)
}

func TestRegistryLivenessWindow(t *testing.T) {
	r := New(t.TempDir(), "station1", true)
	require.NoError(t, r.Upsert(types.Station{StationID: "station2", LastHeartbeat: nowSeconds() - 40}))

	views := r.Views()
	require.Len(t, views, 1)
	assert.False(t, views[0].IsActive)
}

func TestRegistryMasterSelfOverride(t *testing.T) {
	r := New(t.TempDir(), "station1", true)
	// No row at all for station1.
	views := r.Views()
	assert.Empty(t, views)

	// Even a stale row for the local station reads as active.
	require.NoError(t, r.Upsert(types.Station{StationID: "station1", LastHeartbeat: nowSeconds() - 1000}))
	views = r.Views()
	require.Len(t, views, 1)
	assert.True(t, views[0].IsActive)
}

func TestRegistryLivePeersExcludesLocal(t *testing.T) {
	r := New(t.TempDir(), "station1", true)
	require.NoError(t, r.Upsert(types.Station{StationID: "station1", LastHeartbeat: nowSeconds()}))
	require.NoError(t, r.Upsert(types.Station{StationID: "station2", LastHeartbeat: nowSeconds()}))
	require.NoError(t, r.Upsert(types.Station{StationID: "station3", LastHeartbeat: nowSeconds() - 100}))

	peers := r.LivePeers()
	require.Len(t, peers, 1)
	assert.Equal(t, "station2", peers[0].StationID)
}

func TestLoadScoreDefaultsWhenNoMetrics(t *testing.T) {
	assert.Equal(t, 50.0, LoadScore(types.Station{}))
}

func TestLoadScoreWeighting(t *testing.T) {
	st := types.Station{Metrics: map[string]float64{"cpu_percent": 80, "memory_percent": 50}}
	assert.InDelta(t, 0.6*80+0.4*50, LoadScore(st), 0.0001)
}

func TestIsMaster(t *testing.T) {
	assert.True(t, IsMaster("station1"))
	assert.False(t, IsMaster("station2"))
}

func TestRegistryLoadToleratesLegacyHeaderRow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/cluster", 0o755))
	content := fmt.Sprintf("station_id\thost\tport\tlast_heartbeat\nstation2\thost\t8001\t%s\n",
		strconv.FormatFloat(nowSeconds(), 'f', -1, 64))
	require.NoError(t, os.WriteFile(dir+"/cluster/stations.tsv", []byte(content), 0o644))

	r := New(dir, "station1", true)
	st, ok := r.Get("station2")
	require.True(t, ok)
	assert.Equal(t, 8001, st.Port)
}
