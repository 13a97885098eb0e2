package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cuemby/crucible/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// proxyWebSocket accepts the client handshake (honouring the first
// offered sub-protocol, if any), dials the same path on the backend,
// and bridges the two connections until either side closes.
func (p *Proxy) proxyWebSocket(w http.ResponseWriter, r *http.Request, backend Backend, tail string) {
	l := log.WithComponent("proxy")

	responseHeader := http.Header{}
	var subprotocols []string
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		subprotocols = strings.Split(proto, ",")
		for i := range subprotocols {
			subprotocols[i] = strings.TrimSpace(subprotocols[i])
		}
		responseHeader.Set("Sec-WebSocket-Protocol", subprotocols[0])
	}

	clientConn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		l.Warn().Err(err).Msg("websocket client handshake failed")
		return
	}
	defer clientConn.Close()

	backendURL := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", backend.IP, backend.Port), Path: "/" + tail, RawQuery: r.URL.RawQuery}
	dialer := websocket.Dialer{Subprotocols: subprotocols}
	backendConn, _, err := dialer.Dial(backendURL.String(), nil)
	if err != nil {
		l.Warn().Err(err).Str("backend", backendURL.String()).Msg("websocket backend dial failed")
		clientConn.Close()
		return
	}
	defer backendConn.Close()

	var once sync.Once
	done := make(chan struct{})
	closeBoth := func() {
		once.Do(func() { close(done) })
	}

	go bridgeWebSocket(clientConn, backendConn, closeBoth)
	go bridgeWebSocket(backendConn, clientConn, closeBoth)

	<-done
}

// bridgeWebSocket copies frames from src to dst, preserving message
// type, until either side errors or closeBoth is called from the
// opposing direction.
func bridgeWebSocket(src, dst *websocket.Conn, closeBoth func()) {
	defer closeBoth()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
