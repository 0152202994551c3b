package replay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/shiroyk/tracerbench-serve/internal/archive"
	"github.com/shiroyk/tracerbench-serve/internal/socks5"
)

// Endpoint listens on 127.0.0.1:<socks_port> for one response set and
// runs, for every accepted connection, in order: a SOCKS5 handshake, a
// TLS accept, then an H2 serve loop answering from the set. Per-
// connection failures are logged and isolated; they never take the
// listener down.
type Endpoint struct {
	Name      string
	Port      uint16
	TLSConfig *tls.Config
	handler   http.Handler
	logger    *zap.Logger
}

// NewEndpoint builds the endpoint for one response set, sharing tlsConfig
// across every endpoint the launcher starts.
func NewEndpoint(set *archive.ResponseSet, tlsConfig *tls.Config, logger *zap.Logger) *Endpoint {
	return &Endpoint{
		Name:      set.Name,
		Port:      set.SocksPort,
		TLSConfig: tlsConfig,
		handler:   newResponseHandler(set, logger),
		logger:    logger,
	}
}

// Addr is the loopback address this endpoint binds to.
func (e *Endpoint) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", e.Port)
}

// Start binds the listener and serves until ctx is canceled. A bind
// failure is returned immediately so the launcher's errgroup can fail
// the whole launch; once bound, Start never returns except via ctx
// cancellation, mirroring the original's infinite accept loop.
func (e *Endpoint) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", e.Addr())
	if err != nil {
		return fmt.Errorf("endpoint %s: binding %s: %w", e.Name, e.Addr(), err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	e.logger.Info("response set listening",
		zap.String("set", e.Name), zap.String("addr", e.Addr()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Warn("failed to accept client", zap.String("set", e.Name), zap.Error(err))
			continue
		}
		e.logger.Debug("accept", zap.String("set", e.Name), zap.String("remote", conn.RemoteAddr().String()))
		go e.handleConnection(conn)
	}
}

func (e *Endpoint) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := e.serve(conn); err != nil {
		e.logger.Warn("connection error", zap.String("set", e.Name), zap.Error(err))
	}
}

func (e *Endpoint) serve(conn net.Conn) error {
	socksConn, err := socks5.Handshake(conn)
	if err != nil {
		return fmt.Errorf("socks5: %w", err)
	}

	tlsConn := tls.Server(socksConn, e.TLSConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	e.logger.Debug("tls handshake complete", zap.String("set", e.Name))

	h2 := &http2.Server{}
	h2.ServeConn(tlsConn, &http2.ServeConnOpts{Handler: e.handler})
	return nil
}
