// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"conga/internal/analysis"
	applog "conga/internal/log"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 256
	writeWait      = time.Second
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// WebSocketTransport broadcasts hit events as JSON to every connected client,
// typically the browser game.
type WebSocketTransport struct {
	path      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
	listener  net.Listener
	log       *applog.Logger
}

func newWebSocketTransport(path string) *WebSocketTransport {
	wst := &WebSocketTransport{
		path: path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The game is served from a different origin during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, broadcastQueue),
		done:      make(chan struct{}),
		log:       applog.Named("WebSocketTransport"),
	}
	go wst.handleBroadcasts()
	return wst
}

// NewWebSocketTransport listens on addr and serves clients on path.
func NewWebSocketTransport(addr, path string) (*WebSocketTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen on %s: %w", addr, err)
	}

	wst := newWebSocketTransport(path)
	wst.listener = ln
	wst.server = &http.Server{
		Handler:           wst.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		wst.log.Infof("serving hits on ws://%s%s", ln.Addr(), path)
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.Errorf("server error: %v", err)
		}
	}()
	return wst, nil
}

// Handler returns the HTTP handler that upgrades connections on the
// transport's path.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wst.path, wst.handleWebSocket)
	return mux
}

// Addr is the bound listen address, or nil when serving through Handler.
func (wst *WebSocketTransport) Addr() net.Addr {
	if wst.listener == nil {
		return nil
	}
	return wst.listener.Addr()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "transport closed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = true
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Infof("client %s connected, total: %d", conn.RemoteAddr(), n)

	// Clients never send; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	if ok {
		wst.log.Infof("client disconnected, total: %d", n)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(data); err != nil {
					wst.log.Warnf("error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast. Events are converted to HitMessage. When
// the queue is full the message is dropped so the audio path never blocks.
func (wst *WebSocketTransport) Send(data any) error {
	if ev, ok := data.(analysis.Event); ok {
		data = NewHitMessage(ev)
	}
	select {
	case <-wst.done:
		return ErrTransportClosed
	default:
	}
	select {
	case wst.broadcast <- data:
	default:
		wst.log.Debugf("broadcast queue full, dropping message")
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
