package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vogler75/monstermq/internal/endpoint"
	"github.com/vogler75/monstermq/internal/logger"
)

// WSServer accepts MQTT-over-WebSocket connections (spec.md §6's ws/wss
// listener), framing each read/write through gorilla/websocket binary
// messages instead of a raw TCP stream.
type WSServer struct {
	addr     string
	path     string
	deps     *endpoint.Deps
	log      *logger.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewWS creates a WSServer listening on addr, upgrading requests at path.
func NewWS(addr, path string, deps *endpoint.Deps, log *logger.Logger) *WSServer {
	return &WSServer{
		addr: addr,
		path: path,
		deps: deps,
		log:  log,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"mqtt"},
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Start begins serving WebSocket upgrades in the background.
func (srv *WSServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(srv.path, srv.handleUpgrade)
	srv.server = &http.Server{Addr: srv.addr, Handler: mux}

	listener, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := srv.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			srv.log.Warn("websocket server stopped", "addr", srv.addr, "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server backing the upgrades.
func (srv *WSServer) Stop() error {
	if srv.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.server.Shutdown(ctx)
}

func (srv *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newWSConn(wsConn)
	endpoint.New(conn, srv.deps).Run(r.Context())
}

// wsConn adapts a *websocket.Conn into net.Conn so endpoint.Endpoint's
// bufio-framed read loop and packet writer work unmodified over either
// transport. Each MQTT frame, however large, rides in exactly one
// binary WebSocket message per side (the MQTT-over-WebSocket binding
// requires this); Read stitches a message's bytes across however many
// Read calls the caller makes before requesting the next message.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(b []byte) (int, error) {
	for c.reader == nil {
		msgType, r, err := c.ws.NextReader()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.reader = r
	}
	n, err := c.reader.Read(b)
	if err == io.EOF {
		c.reader = nil
		if n > 0 {
			return n, nil
		}
		return 0, nil
	}
	return n, err
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr                 { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr                { return c.ws.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error       { _ = c.ws.SetReadDeadline(t); return c.ws.SetWriteDeadline(t) }
func (c *wsConn) SetReadDeadline(t time.Time) error    { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error   { return c.ws.SetWriteDeadline(t) }
