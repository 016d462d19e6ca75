/*
Package metrics provides Prometheus metrics collection for fatvfs.

Collector implements types.MetricsCollector, so it can be handed to the
block buffer cache (bcache.WithMetrics) and to the FAT adapter
(fat.WithMetrics) alike:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "fatvfs",
	})
	if err != nil {
		return err
	}
	cache, _ := bcache.New(cfg, bcache.WithMetrics(collector))

Metrics live on a private registry rather than the global default one, so
several collectors can coexist in one process (and in tests).

# Exported series

	<ns>_operations_total{operation,status}         counter
	<ns>_operation_duration_seconds{operation}      histogram
	<ns>_operation_size_bytes{operation}            histogram
	<ns>_cache_requests_total{result,device}        counter  (hit|miss)
	<ns>_cache_evictions_total{device,state}        counter  (clean|dirty)
	<ns>_cache_bytes{kind}                          gauge    (used|capacity)
	<ns>_errors_total{operation,category}           counter

Error categories come from pkg/errors (io, not_found, resource, ...).

# HTTP endpoints

Handler serves /metrics (or Config.Path), /health and /debug/operations,
the latter a JSON summary of per-operation counts and averages. Start runs
the handler on Config.Port until Stop is called or the context ends.
*/
package metrics
