package transport

import "errors"

var (
	ErrHandshake      = errors.New("transport: handshake failed")
	ErrFrameTooLarge  = errors.New("transport: frame too large")
	ErrNoSubprotocol  = errors.New("transport: no wamp subprotocol negotiated")
	ErrClosedPipe     = errors.New("transport: pipe closed")
	ErrDialExhausted  = errors.New("transport: dial attempts exhausted")
)

// Channel is an ordered, reliable, message-oriented duplex link.
// Sends are delivered in order and never duplicated. After Close or Abort,
// Send fails with wamp.ErrChannelClosed and IsOpen stays false.
type Channel interface {
	Send(b []byte) error
	IsOpen() bool
	// Close stops accepting sends, flushes queued ones, then closes.
	Close() error
	// Abort closes immediately and discards anything still queued.
	Abort() error
}

// Handler receives channel lifecycle callbacks. OnOpen precedes every
// OnMessage; OnMessage calls are sequential; OnClose is the last call.
type Handler interface {
	OnOpen(ch Channel)
	OnMessage(b []byte)
	OnClose()
}

// FrameConn moves whole messages over an underlying connection.
// ReadFrame is called from one goroutine and WriteFrame from another.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	Close() error
}
