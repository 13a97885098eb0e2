package proxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/crucible/pkg/storage"
	"github.com/cuemby/crucible/pkg/types"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolveCachesAfterFirstLookup(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(&types.Task{ID: "t1", Status: types.TaskStatusRunning}))
	require.NoError(t, store.UpdateUIInfo("t1", "10.0.0.7", 8080))

	p := New(store)
	b, ok, err := p.resolve("t1", ChannelUI)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Backend{IP: "10.0.0.7", Port: 8080}, b)

	cached, ok := p.uiCache.get("t1")
	require.True(t, ok)
	require.Equal(t, b, cached)
}

func TestResolveMissingPortIsNotFound(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add(&types.Task{ID: "t1", Status: types.TaskStatusRunning}))

	p := New(store)
	_, ok, err := p.resolve("t1", ChannelUI)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestServeChannelProxiesToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/proxy/t1", r.Header.Get("X-Forwarded-Prefix"))
		require.Equal(t, "/hello", r.URL.Path)
		w.Write([]byte("world"))
	}))
	defer backend.Close()

	store := newTestStore(t)
	require.NoError(t, store.Add(&types.Task{ID: "t1", Status: types.TaskStatusRunning}))
	ip, port := splitHostPort(t, backend.URL)
	require.NoError(t, store.UpdateUIInfo("t1", ip, port))

	p := New(store)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/t1/hello", nil)
	p.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	require.Equal(t, "world", string(body))
}

func TestServeChannelMissingTaskIs404(t *testing.T) {
	store := newTestStore(t)
	p := New(store)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/missing/hello", nil)
	p.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRefererTaskPath(t *testing.T) {
	prefix, id := refererTaskPath("http://host/proxy/abc123/index.html")
	require.Equal(t, "/proxy/", prefix)
	require.Equal(t, "abc123", id)

	prefix, id = refererTaskPath("http://host/unrelated")
	require.Equal(t, "", prefix)
	require.Equal(t, "", id)
}
