// Package transport hosts the network listeners that accept client
// connections and hand each one to internal/endpoint.Endpoint. Adapted
// from Pyr33x-goqtt/internal/transport/tcp.go's accept loop and
// connection-count guard, generalized from the teacher's single
// hardcoded listener and inline CONNECT handling into a reusable
// server that delegates the entire protocol state machine to
// internal/endpoint, so the same type serves plain TCP and TLS.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/vogler75/monstermq/internal/endpoint"
	"github.com/vogler75/monstermq/internal/logger"
)

// TCPServer accepts plain or TLS TCP connections and runs each one
// through an endpoint.Endpoint until it closes.
type TCPServer struct {
	addr           string
	tlsConfig      *tls.Config
	deps           *endpoint.Deps
	log            *logger.Logger
	maxConnections int32

	listener  net.Listener
	shutdown  atomic.Bool
	connCount atomic.Int32
}

// New creates a TCPServer. tlsConfig may be nil for a plain listener.
func New(addr string, tlsConfig *tls.Config, deps *endpoint.Deps, log *logger.Logger, maxConnections int32) *TCPServer {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	return &TCPServer{
		addr:           addr,
		tlsConfig:      tlsConfig,
		deps:           deps,
		log:            log,
		maxConnections: maxConnections,
	}
}

// Start opens the listener and begins accepting connections in the
// background. It returns once the listener is bound.
func (srv *TCPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}
	if srv.tlsConfig != nil {
		listener = tls.NewListener(listener, srv.tlsConfig)
	}
	srv.listener = listener
	go srv.accept(ctx)
	return nil
}

// Stop closes the listener, unblocking accept.
func (srv *TCPServer) Stop() error {
	srv.shutdown.Store(true)
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

func (srv *TCPServer) accept(ctx context.Context) {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if srv.shutdown.Load() || ctx.Err() != nil {
				return
			}
			srv.log.Warn("accept error", "addr", srv.addr, "error", err)
			continue
		}

		if srv.connCount.Load() >= srv.maxConnections {
			_ = conn.Close()
			continue
		}
		srv.connCount.Add(1)

		go func() {
			defer srv.connCount.Add(-1)
			endpoint.New(conn, srv.deps).Run(ctx)
		}()
	}
}
