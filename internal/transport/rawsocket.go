package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/smallnest/goframe"
	"golang.org/x/net/netutil"

	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

const (
	rawSocketMagic byte = 0x7F

	// Frame lengths carry 24 bits; the top header octet is the frame type.
	maxRawSocketLength = 1 << 24

	rawErrSerializerUnsupported byte = 1
	rawErrMaxLenUnacceptable    byte = 2
	rawErrReservedBits          byte = 3
)

var (
	frameEncoder = goframe.EncoderConfig{
		ByteOrder:                       binary.BigEndian,
		LengthFieldLength:               4,
		LengthAdjustment:                0,
		LengthIncludesLengthFieldLength: false,
	}
	frameDecoder = goframe.DecoderConfig{
		ByteOrder:           binary.BigEndian,
		LengthFieldOffset:   0,
		LengthFieldLength:   4,
		LengthAdjustment:    0,
		InitialBytesToStrip: 4,
	}
)

// lengthExponent encodes max as the handshake nibble L where 2^(9+L) >= max.
func lengthExponent(max int) byte {
	for l := byte(0); l < 15; l++ {
		if 1<<(9+int(l)) >= max {
			return l
		}
	}
	return 15
}

func lengthFromExponent(l byte) int {
	return 1 << (9 + int(l&0x0F))
}

type rawSocketConn struct {
	frames   goframe.FrameConn
	conn     net.Conn
	sendMax  int
	recvMax  int
	deadline time.Duration
}

func newRawSocketConn(conn net.Conn, sendMax, recvMax int, writeTimeout time.Duration) *rawSocketConn {
	return &rawSocketConn{
		frames:   goframe.NewLengthFieldBasedFrameConn(frameEncoder, frameDecoder, conn),
		conn:     conn,
		sendMax:  sendMax,
		recvMax:  recvMax,
		deadline: writeTimeout,
	}
}

func (r *rawSocketConn) ReadFrame() ([]byte, error) {
	b, err := r.frames.ReadFrame()
	if err != nil {
		return nil, err
	}
	if len(b) > r.recvMax {
		return nil, fmt.Errorf("%w: got=%d max=%d", ErrFrameTooLarge, len(b), r.recvMax)
	}
	return b, nil
}

func (r *rawSocketConn) WriteFrame(b []byte) error {
	if len(b) > r.sendMax {
		return fmt.Errorf("%w: got=%d peer max=%d", ErrFrameTooLarge, len(b), r.sendMax)
	}
	if r.deadline > 0 {
		_ = r.conn.SetWriteDeadline(time.Now().Add(r.deadline))
	}
	return r.frames.WriteFrame(b)
}

func (r *rawSocketConn) Close() error {
	return r.frames.Close()
}

// AcceptRawSocket runs the router side of the rawsocket handshake on conn
// and returns the framed connection plus the serializer the client chose.
func AcceptRawSocket(conn net.Conn, cfg Config) (FrameConn, wamp.Serializer, error) {
	logs := logging.Component("transport")
	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	var hs [4]byte
	if _, err := io.ReadFull(conn, hs[:]); err != nil {
		conn.Close()
		return nil, nil, pkgerrors.Wrap(err, "transport: read rawsocket handshake")
	}
	if hs[0] != rawSocketMagic {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: magic=0x%02x", ErrHandshake, hs[0])
	}
	if hs[2] != 0 || hs[3] != 0 {
		rejectRawSocket(conn, rawErrReservedBits)
		return nil, nil, fmt.Errorf("%w: reserved bytes set", ErrHandshake)
	}
	ser, err := serialize.ByRawSocketID(hs[1] & 0x0F)
	if err != nil {
		rejectRawSocket(conn, rawErrSerializerUnsupported)
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	peerMax := lengthFromExponent(hs[1] >> 4)
	recvExp := lengthExponent(cfg.MaxMessageSize)
	reply := [4]byte{rawSocketMagic, recvExp<<4 | serialize.RawSocketID(ser), 0, 0}
	if _, err := conn.Write(reply[:]); err != nil {
		conn.Close()
		return nil, nil, pkgerrors.Wrap(err, "transport: write rawsocket handshake")
	}
	_ = conn.SetDeadline(time.Time{})
	logs.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Str("serializer", ser.Name()).
		Int("peer_max", peerMax).
		Msg("transport.AcceptRawSocket")
	return newRawSocketConn(conn, peerMax, lengthFromExponent(recvExp), cfg.WriteTimeout), ser, nil
}

// ClientRawSocket runs the client side of the rawsocket handshake on conn.
func ClientRawSocket(conn net.Conn, ser wamp.Serializer, cfg Config) (FrameConn, error) {
	id := serialize.RawSocketID(ser)
	if id == 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: serializer %s has no rawsocket id", ErrHandshake, ser.Name())
	}
	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	recvExp := lengthExponent(cfg.MaxMessageSize)
	hs := [4]byte{rawSocketMagic, recvExp<<4 | id, 0, 0}
	if _, err := conn.Write(hs[:]); err != nil {
		conn.Close()
		return nil, pkgerrors.Wrap(err, "transport: write rawsocket handshake")
	}
	var reply [4]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, pkgerrors.Wrap(err, "transport: read rawsocket handshake")
	}
	if reply[0] != rawSocketMagic {
		conn.Close()
		return nil, fmt.Errorf("%w: magic=0x%02x", ErrHandshake, reply[0])
	}
	if reply[1]&0x0F == 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: router error code=%d", ErrHandshake, reply[1]>>4)
	}
	if reply[1]&0x0F != id {
		conn.Close()
		return nil, fmt.Errorf("%w: router chose serializer id=%d", ErrHandshake, reply[1]&0x0F)
	}
	_ = conn.SetDeadline(time.Time{})
	return newRawSocketConn(conn, lengthFromExponent(reply[1]>>4), lengthFromExponent(recvExp), cfg.WriteTimeout), nil
}

func rejectRawSocket(conn net.Conn, code byte) {
	_, _ = conn.Write([]byte{rawSocketMagic, code << 4, 0, 0})
	conn.Close()
}

// ListenRawSocket opens a TCP listener, capped at maxConns concurrent
// connections when positive and wrapped in TLS when cfg enables it.
func ListenRawSocket(addr string, maxConns int, cfg Config) (net.Listener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "transport: listen rawsocket %s", addr)
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	tlsCfg, err := cfg.ServerTLS()
	if err != nil {
		l.Close()
		return nil, err
	}
	if tlsCfg != nil {
		l = tls.NewListener(l, tlsCfg)
	}
	return l, nil
}

// DialRawSocket connects to a rawsocket router, retrying with backoff.
func DialRawSocket(ctx context.Context, addr string, ser wamp.Serializer, cfg Config) (FrameConn, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	return retry(ctx, cfg, addr, func(ctx context.Context) (FrameConn, error) {
		nd := &net.Dialer{Timeout: cfg.ConnectTimeout}
		var conn net.Conn
		var err error
		if tlsCfg != nil {
			td := &tls.Dialer{NetDialer: nd, Config: tlsCfg}
			conn, err = td.DialContext(ctx, "tcp", addr)
		} else {
			conn, err = nd.DialContext(ctx, "tcp", addr)
		}
		if err != nil {
			return nil, err
		}
		return ClientRawSocket(conn, ser, cfg)
	})
}
