package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/storage"
)

// Proxy is the task-aware reverse proxy: it mounts /proxy/{id}/... and
// /vscode/{id}/... and forwards each to the task's discovered backend.
type Proxy struct {
	store       storage.Store
	uiCache     *cache
	vscodeCache *cache
}

// New builds a Proxy backed by store.
func New(store storage.Store) *Proxy {
	return &Proxy{store: store, uiCache: newCache(), vscodeCache: newCache()}
}

func (p *Proxy) cacheFor(ch Channel) *cache {
	if ch == ChannelVSCode {
		return p.vscodeCache
	}
	return p.uiCache
}

// resolve looks up taskID's backend for channel, populating the cache
// on first request. The second return is false when no port has been
// discovered yet (404 to the caller, per spec.md §4.6).
func (p *Proxy) resolve(taskID string, ch Channel) (Backend, bool, error) {
	timer := metrics.NewTimer()
	if b, ok := p.cacheFor(ch).get(taskID); ok {
		timer.ObserveDurationVec(metrics.ProxyBackendResolveDuration, string(ch), "true")
		return b, true, nil
	}
	defer timer.ObserveDurationVec(metrics.ProxyBackendResolveDuration, string(ch), "false")

	task, err := p.store.Get(taskID)
	if err != nil {
		return Backend{}, false, err
	}
	if task == nil {
		return Backend{}, false, nil
	}

	var b Backend
	switch ch {
	case ChannelVSCode:
		if task.VSCodePort == 0 {
			return Backend{}, false, nil
		}
		b = Backend{IP: task.UIIPAddress, Port: task.VSCodePort}
	default:
		if task.UIPort == 0 {
			return Backend{}, false, nil
		}
		b = Backend{IP: task.UIIPAddress, Port: task.UIPort}
	}

	p.cacheFor(ch).put(taskID, b)
	return b, true, nil
}

// Handler mounts both side channels on a stdlib mux.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/proxy/", p.serveChannel(ChannelUI, "/proxy/"))
	mux.HandleFunc("/vscode/", p.serveChannel(ChannelVSCode, "/vscode/"))
	return mux
}

// serveChannel returns a handler that splits "{id}/{tail...}" off the
// request path and forwards it over ch.
func (p *Proxy) serveChannel(ch Channel, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, tail := splitTaskPath(r.URL.Path, prefix)
		if taskID == "" {
			http.NotFound(w, r)
			return
		}

		backend, ok, err := p.resolve(taskID, ch)
		if err != nil {
			log.WithComponent("proxy").Error().Err(err).Str("task", taskID).Msg("resolve backend")
			http.Error(w, "Proxy error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}

		if isWebSocketUpgrade(r) {
			p.proxyWebSocket(w, r, backend, tail)
			return
		}

		p.proxyHTTP(w, r, backend, tail, prefix+taskID)
	}
}

// splitTaskPath peels "{id}" and the remaining tail off a path that
// begins with prefix (e.g. "/proxy/").
func splitTaskPath(path, prefix string) (taskID, tail string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	taskID = parts[0]
	if len(parts) == 2 {
		tail = parts[1]
	}
	return taskID, tail
}

// noProxyTransport is shared by every reverse-proxied request. Backend
// pods are always addressed by their in-cluster IP, so HTTP_PROXY/
// NO_PROXY environment variables must never be consulted for this hop
// (spec.md §9's "no_proxy" open question).
var noProxyTransport = &http.Transport{Proxy: nil}

func (p *Proxy) proxyHTTP(w http.ResponseWriter, r *http.Request, backend Backend, tail, forwardedPrefix string) {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", backend.IP, backend.Port)}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.Transport = noProxyTransport
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		req.URL.Path = "/" + tail
		req.URL.RawQuery = r.URL.RawQuery
		req.Host = target.Host
		req.Header.Set("X-Forwarded-Prefix", forwardedPrefix)
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithComponent("proxy").Error().Err(err).Msg("upstream proxy error")
		http.Error(w, "Proxy error", http.StatusInternalServerError)
	}

	rp.ServeHTTP(w, r)
}
