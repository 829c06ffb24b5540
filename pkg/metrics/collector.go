package metrics

import (
	"time"

	"github.com/stationrt/station/pkg/registry"
)

// objectCache is the minimal view Collector needs from pkg/runtime.Runtime.
// It is expressed as a local interface (rather than importing pkg/runtime
// directly) because runtime already imports pkg/metrics to record
// inline counters, and Go forbids the reverse import.
type objectCache interface {
	CachedObjectCount() int
}

// Collector periodically refreshes the gauges that aren't naturally
// updated by the event that changes them: registry size and runtime cache
// occupancy are snapshotted on a timer rather than on every mutation.
type Collector struct {
	registry *registry.Registry
	runtime  objectCache
	interval time.Duration
	stopCh   chan struct{}
}

func NewCollector(reg *registry.Registry, rt objectCache) *Collector {
	return &Collector{
		registry: reg,
		runtime:  rt,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.registry != nil {
		live, down := 0, 0
		for _, view := range c.registry.Views() {
			if view.IsActive {
				live++
			} else {
				down++
			}
		}
		StationsTotal.WithLabelValues("true").Set(float64(live))
		StationsTotal.WithLabelValues("false").Set(float64(down))
	}

	if c.runtime != nil {
		ObjectsLoaded.Set(float64(c.runtime.CachedObjectCount()))
	}
}
