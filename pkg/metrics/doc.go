// Package metrics exposes crucible's Prometheus metrics (task counts,
// worker-pipeline phase timing, ingress/proxy latency, reconciliation
// stats) and a generic component health registry, both served over
// plain HTTP for scraping and liveness/readiness checks.
package metrics
