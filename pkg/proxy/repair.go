package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
)

// RepairRelative404 wraps next so that a 404 it produces is retried
// once against the proxy when the request's Referer names a task's
// proxy or vscode path: many dev-server UIs emit root-relative asset
// requests ("/static/app.js") that land on the outer router instead
// of the task's own backend. Only a genuine 404 from next triggers
// the retry; every other response passes through untouched.
func (p *Proxy) RepairRelative404(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/proxy/") || strings.HasPrefix(r.URL.Path, "/vscode/") {
			next.ServeHTTP(w, r)
			return
		}

		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, r)
		if rec.Code != http.StatusNotFound {
			copyResponse(w, rec)
			return
		}

		prefix, taskID := refererTaskPath(r.Header.Get("Referer"))
		if taskID == "" {
			copyResponse(w, rec)
			return
		}

		repaired := r.Clone(r.Context())
		repaired.URL.Path = prefix + taskID + r.URL.Path
		p.Handler().ServeHTTP(w, repaired)
	})
}

// refererTaskPath extracts ("/proxy/" or "/vscode/", taskID) from a
// referer containing one of those path segments, or ("", "") if
// neither is present.
func refererTaskPath(referer string) (prefix, taskID string) {
	for _, p := range []string{"/proxy/", "/vscode/"} {
		idx := strings.Index(referer, p)
		if idx == -1 {
			continue
		}
		rest := referer[idx+len(p):]
		rest = strings.SplitN(rest, "?", 2)[0]
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] != "" {
			return p, parts[0]
		}
	}
	return "", ""
}

func copyResponse(w http.ResponseWriter, rec *httptest.ResponseRecorder) {
	for k, vs := range rec.Header() {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.Code)
	w.Write(rec.Body.Bytes())
}
