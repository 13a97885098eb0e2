// Package proxy is the Task-Aware Reverse Proxy (C6): it exposes a
// running task's own web UI and editor sidecar at a stable
// /proxy/{id}/... or /vscode/{id}/... path, resolving {id} to the
// task's current ip:port via the repository on first request and
// caching the result thereafter. Grounded on pkg/ingress/proxy.go's
// httputil.ReverseProxy Director/ErrorHandler shape and
// pkg/ingress/middleware.go's X-Forwarded-* header injection, adapted
// from virtual-host ingress routing to task-id-keyed side channels.
package proxy
