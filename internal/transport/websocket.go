package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"

	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

type websocketConn struct {
	conn         *websocket.Conn
	messageType  int
	writeTimeout time.Duration
}

// NewWebsocketConn frames WAMP messages one per websocket message. Binary
// serializers use binary messages, text serializers text messages.
func NewWebsocketConn(conn *websocket.Conn, ser wamp.Serializer, cfg Config) FrameConn {
	mt := websocket.TextMessage
	if ser.IsBinary() {
		mt = websocket.BinaryMessage
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	return &websocketConn{conn: conn, messageType: mt, writeTimeout: cfg.WriteTimeout}
}

func (w *websocketConn) ReadFrame() ([]byte, error) {
	_, b, err := w.conn.ReadMessage()
	return b, err
}

func (w *websocketConn) WriteFrame(b []byte) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(w.messageType, b)
}

func (w *websocketConn) Close() error {
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return w.conn.Close()
}

// NewUpgrader returns an upgrader offering the subprotocols of the named
// serializers. checkOrigin may be nil to allow every origin.
func NewUpgrader(serializers []string, cfg Config, checkOrigin func(*http.Request) bool) *websocket.Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     serialize.Subprotocols(serializers),
		CheckOrigin:      checkOrigin,
	}
}

// AcceptWebsocket upgrades an HTTP request and resolves the negotiated
// serializer. Requests without a WAMP subprotocol are refused.
func AcceptWebsocket(w http.ResponseWriter, r *http.Request, up *websocket.Upgrader, cfg Config) (FrameConn, wamp.Serializer, error) {
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "transport: websocket upgrade")
	}
	ser, err := serialize.BySubprotocol(conn.Subprotocol())
	if err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "wamp subprotocol required"),
			time.Now().Add(time.Second),
		)
		conn.Close()
		return nil, nil, fmt.Errorf("%w: offered=%q", ErrNoSubprotocol, websocket.Subprotocols(r))
	}
	logs := logging.Component("transport")
	logs.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Str("subprotocol", conn.Subprotocol()).
		Msg("transport.AcceptWebsocket")
	return NewWebsocketConn(conn, ser, cfg), ser, nil
}

// DialWebsocket connects to a websocket router URL, retrying with backoff.
func DialWebsocket(ctx context.Context, url string, ser wamp.Serializer, cfg Config) (FrameConn, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     []string{serialize.Subprotocol(ser)},
		TLSClientConfig:  tlsCfg,
	}
	return retry(ctx, cfg, url, func(ctx context.Context) (FrameConn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "transport: dial websocket %s", url)
		}
		if conn.Subprotocol() != serialize.Subprotocol(ser) {
			conn.Close()
			return nil, fmt.Errorf("%w: got=%q", ErrNoSubprotocol, conn.Subprotocol())
		}
		return NewWebsocketConn(conn, ser, cfg), nil
	})
}
