package transport

import (
	"context"
	"errors"
	"net"

	pkgerrors "github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/danmuck/wampd/internal/wamp"
)

// ALPNRawSocket is negotiated on QUIC connections carrying rawsocket framing.
const ALPNRawSocket = "wamp.2.rawsocket"

var ErrQUICNeedsTLS = errors.New("transport: quic requires tls")

// streamConn presents one bidirectional QUIC stream as a net.Conn so the
// rawsocket handshake and framing run over it unchanged.
type streamConn struct {
	quic.Stream
	conn quic.Connection
}

func (s *streamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *streamConn) Close() error {
	s.Stream.CancelRead(0)
	err := s.Stream.Close()
	_ = s.conn.CloseWithError(0, "closed")
	return err
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: c.HandshakeTimeout,
		KeepAlivePeriod:      c.KeepAlive,
	}
}

// QUICListener accepts QUIC connections whose first stream speaks rawsocket.
type QUICListener struct {
	ln  *quic.Listener
	cfg Config
}

// ListenQUIC opens a QUIC listener. TLS must be enabled in cfg.
func ListenQUIC(addr string, cfg Config) (*QUICListener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ServerTLS()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return nil, ErrQUICNeedsTLS
	}
	tlsCfg.NextProtos = []string{ALPNRawSocket}
	ln, err := quic.ListenAddr(addr, tlsCfg, cfg.quicConfig())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "transport: listen quic %s", addr)
	}
	return &QUICListener{ln: ln, cfg: cfg}, nil
}

// Accept waits for the next QUIC connection. Run Upgrade on it, usually
// from its own goroutine, to reach a FrameConn.
func (l *QUICListener) Accept(ctx context.Context) (quic.Connection, error) {
	return l.ln.Accept(ctx)
}

// Upgrade waits for the connection's first stream and runs the rawsocket
// handshake on it.
func (l *QUICListener) Upgrade(ctx context.Context, conn quic.Connection) (FrameConn, wamp.Serializer, error) {
	if l.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
		defer cancel()
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, nil, pkgerrors.Wrap(err, "transport: accept quic stream")
	}
	return AcceptRawSocket(&streamConn{Stream: stream, conn: conn}, l.cfg)
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// DialQUIC connects to a QUIC router and opens the message stream.
func DialQUIC(ctx context.Context, addr string, ser wamp.Serializer, cfg Config) (FrameConn, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return nil, ErrQUICNeedsTLS
	}
	tlsCfg.NextProtos = []string{ALPNRawSocket}
	return retry(ctx, cfg, addr, func(ctx context.Context) (FrameConn, error) {
		conn, err := quic.DialAddr(ctx, addr, tlsCfg, cfg.quicConfig())
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "transport: dial quic %s", addr)
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			_ = conn.CloseWithError(0, "no stream")
			return nil, pkgerrors.Wrap(err, "transport: open quic stream")
		}
		return ClientRawSocket(&streamConn{Stream: stream, conn: conn}, ser, cfg)
	})
}
