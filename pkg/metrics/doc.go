/*
Package metrics provides Prometheus metrics collection and exposition for the
station runtime, plus a small named-component health/readiness registry.

All metrics are registered at package init against the default Prometheus
registry and exposed via Handler() for scraping.

# Metrics Catalog

Cluster:

  - station_registry_stations_total{live}: gauge, stations by liveness
    (true/false), refreshed on a timer by Collector.
  - station_runtime_objects_loaded: gauge, distinct objects with a live
    instance in the runtime's process cache, refreshed on a timer by
    Collector.

HTTP surface:

  - station_api_requests_total{method,status}: counter.
  - station_api_request_duration_seconds{method}: histogram.

Object execution:

  - station_object_execute_duration_seconds{object_id,method}: histogram.
  - station_object_execute_failures_total{object_id,method}: counter.

Router:

  - station_router_forwarded_total{kind}: counter, kind is "explicit" or
    "load_balanced".
  - station_router_forward_failures_total: counter, forwards that fell back
    to local execution.

Replication:

  - station_replication_tasks_submitted_total{kind}: counter, kind is
    "state", "log" or "file".
  - station_replication_tasks_failed_total{kind}: counter.
  - station_replication_duration_seconds{kind}: histogram.

Scheduler:

  - station_scheduler_periodic_cycles_total: counter, in-process periodic
    scheduler sweeps.
  - station_task_record_executions_total{outcome}: counter, outcome is "ok"
    or "error".

# Usage

	timer := metrics.NewTimer()
	// ... execute an object method ...
	timer.ObserveDurationVec(metrics.ObjectExecuteDuration, objectID, method)

	http.Handle("/metrics", metrics.Handler())

# Health and readiness

RegisterComponent/UpdateComponent feed a small named-component registry
(GetHealth/GetReadiness) independent of the metrics above; see health.go.
*/
package metrics
