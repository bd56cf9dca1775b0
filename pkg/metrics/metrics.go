// Package metrics provides the Prometheus registry used by the exporter.
// All metrics are defined in their respective packages (client, ratelimit,
// cache, export) to maintain modularity and avoid circular dependencies.
//
// The exporter is a batch job, so metrics are not scraped: WriteTextfile
// dumps them at the end of a run for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects everything registered on Registry.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes the current value of all metrics in text exposition
// format. The file is replaced atomically, as the textfile collector requires.
func WriteTextfile(path string) error {
	return WriteTextfileFrom(Gatherer, path)
}

// WriteTextfileFrom is WriteTextfile for an explicit gatherer.
func WriteTextfileFrom(g prometheus.Gatherer, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - crm_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - crm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - crm_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, timeout)
//
// Retry Metrics (pkg/client):
//   - crm_retries_total{error_class} (Counter): Retry attempts by error class
//   - crm_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - crm_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - crm_rate_limit_remaining (Gauge): Requests left in the current window
//   - crm_rate_limit_daily_remaining (Gauge): Requests left in the daily budget
//   - crm_rate_limit_waits_total{reason} (Counter): Requests delayed by the rate policy
//   - crm_rate_limit_wait_seconds (Histogram): Time spent waiting on the rate policy
//
// Property Cache Metrics (pkg/cache):
//   - crm_property_cache_hits_total{layer} (Counter): Cache hits by layer
//   - crm_property_cache_misses_total (Counter): Cache misses
//   - crm_property_cache_errors_total{operation} (Counter): Cache operation errors
//
// Export Metrics (pkg/export):
//   - crm_export_records_total{object} (Counter): Records written per object type
//   - crm_export_objects_total{status} (Counter): Object exports by outcome
//   - crm_export_object_duration_seconds{object} (Histogram): Time per object export
//
// Example Prometheus Queries:
//
//   # Objects failing in the last run
//   crm_export_objects_total{status="failed"} > 0
//
//   # Retry pressure
//   sum by (error_class) (crm_retries_total)
//
//   # Daily budget nearly spent
//   crm_rate_limit_daily_remaining < 1000
