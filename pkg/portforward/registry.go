package portforward

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cuemby/crucible/pkg/log"
)

// tunnel is the registry's "subprocess handle" equivalent: the local
// listener that accepts connections to relay. Tearing it down closes
// only the listener; relays already in progress are not tracked here
// and run until either side closes.
type tunnel struct {
	listener net.Listener
	localPort int
	done      chan struct{}
}

// Registry is the dictionary pod_name → handle spec.md describes, keyed
// here by pod name exactly as the spec requires.
type Registry struct {
	mu      sync.Mutex
	tunnels map[string]*tunnel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tunnels: make(map[string]*tunnel)}
}

// Open starts relaying an ephemeral local port to remoteIP:remotePort,
// recording the tunnel under podName, and returns the local port a
// caller should connect to. Opening a second tunnel for a pod name
// already registered closes the old one first.
func (r *Registry) Open(podName, remoteIP string, remotePort int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tunnels[podName]; ok {
		r.closeTunnel(existing)
		delete(r.tunnels, podName)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listen for port-forward: %w", err)
	}

	t := &tunnel{
		listener:  ln,
		localPort: ln.Addr().(*net.TCPAddr).Port,
		done:      make(chan struct{}),
	}
	r.tunnels[podName] = t

	remote := fmt.Sprintf("%s:%d", remoteIP, remotePort)
	go t.serve(remote)

	return t.localPort, nil
}

func (t *tunnel) serve(remote string) {
	l := log.WithComponent("portforward")
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				l.Warn().Err(err).Msg("port-forward accept failed")
				return
			}
		}
		go relay(conn, remote)
	}
}

func relay(local net.Conn, remote string) {
	defer local.Close()
	l := log.WithComponent("portforward")

	upstream, err := net.Dial("tcp", remote)
	if err != nil {
		l.Warn().Err(err).Str("remote", remote).Msg("port-forward dial failed")
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(upstream, local) }()
	go func() { defer wg.Done(); io.Copy(local, upstream) }()
	wg.Wait()
}

// Close tears down the tunnel for podName, if any.
func (r *Registry) Close(podName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[podName]
	if !ok {
		return
	}
	r.closeTunnel(t)
	delete(r.tunnels, podName)
}

func (r *Registry) closeTunnel(t *tunnel) {
	close(t.done)
	t.listener.Close()
}

// CloseAll tears down every tunnel, for use at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.tunnels {
		r.closeTunnel(t)
		delete(r.tunnels, name)
	}
}
