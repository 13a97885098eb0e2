// Package ingress is the Execution Request Ingress (C7): the HTTP
// surface spec.md §6 tabulates (POST /execute, GET /execute/{pkg}/...,
// task status/cancel/delete/logs) plus a broker listener that launches
// the same executions from a message queue. Grounded on
// pkg/api/health.go's bare *http.ServeMux server lifecycle — the
// teacher never reaches for a router library anywhere in its HTTP
// surface, so this package doesn't either.
package ingress
