package portforward

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenRelaysBytesToBackend(t *testing.T) {
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backend.Close()

	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("echo:" + line))
	}()

	backendAddr := backend.Addr().(*net.TCPAddr)
	r := NewRegistry()
	defer r.CloseAll()

	localPort, err := r.Open("pod-1", "127.0.0.1", backendAddr.Port)
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "echo:hello\n", reply)
}

func TestCloseTerminatesTunnel(t *testing.T) {
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backend.Close()
	go func() {
		for {
			conn, err := backend.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	r := NewRegistry()
	localPort, err := r.Open("pod-2", "127.0.0.1", backend.Addr().(*net.TCPAddr).Port)
	require.NoError(t, err)

	r.Close("pod-2")

	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)), time.Second)
	require.Error(t, err, "expected connect to closed tunnel to fail")
}

