package transport

import (
	"io"
	"sync"
)

const pipeBuffer = 64

type pipeConn struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns two connected in-memory FrameConns. Closing either end
// closes both; frames already written stay readable.
func Pipe() (FrameConn, FrameConn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, closed: closed, once: once},
		&pipeConn{in: ab, out: ba, closed: closed, once: once}
}

func (p *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-p.closed:
		select {
		case b := <-p.in:
			return b, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *pipeConn) WriteFrame(b []byte) error {
	select {
	case <-p.closed:
		return ErrClosedPipe
	default:
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrClosedPipe
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
