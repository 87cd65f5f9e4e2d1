package transport

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/wamp"
)

type conduitState int

const (
	stateOpen conduitState = iota
	stateDraining
	stateClosed
)

// conduit is the Channel implementation over a FrameConn. One goroutine
// reads and dispatches to the handler, another drains an unbounded FIFO
// of outbound frames.
type conduit struct {
	id   string
	conn FrameConn
	h    Handler
	log  zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state conduitState
	queue [][]byte

	closeOnce sync.Once
	done      chan struct{}
}

// Open binds conn to h and starts delivery. h.OnOpen runs before Open
// returns, so the handler may send immediately.
func Open(conn FrameConn, h Handler) Channel {
	c := &conduit{
		id:   uuid.NewString(),
		conn: conn,
		h:    h,
		done: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.log = logging.Component("transport").With().Str("channel", c.id).Logger()
	c.log.Debug().Msg("transport.Open")

	h.OnOpen(c)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// ID returns the channel's connection id used in logs.
func (c *conduit) ID() string {
	return c.id
}

func (c *conduit) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return wamp.ErrChannelClosed
	}
	c.queue = append(c.queue, b)
	c.cond.Signal()
	return nil
}

func (c *conduit) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

func (c *conduit) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil
	}
	c.log.Debug().Int("queued", len(c.queue)).Msg("transport.Close draining")
	c.state = stateDraining
	c.cond.Broadcast()
	return nil
}

func (c *conduit) Abort() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.log.Debug().Int("discarded", len(c.queue)).Msg("transport.Abort")
	c.state = stateClosed
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()
	return c.conn.Close()
}

// Done is closed after OnClose has returned.
func (c *conduit) Done() <-chan struct{} {
	return c.done
}

func (c *conduit) writeLoop() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && c.state == stateOpen {
			c.cond.Wait()
		}
		if c.state == stateClosed {
			c.mu.Unlock()
			return
		}
		if len(c.queue) == 0 {
			// draining finished
			c.state = stateClosed
			c.mu.Unlock()
			if err := c.conn.Close(); err != nil {
				c.log.Debug().Err(err).Msg("transport.writeLoop close")
			}
			return
		}
		b := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.conn.WriteFrame(b); err != nil {
			c.log.Warn().Err(err).Msg("transport.writeLoop write failed")
			c.fail()
			return
		}
	}
}

func (c *conduit) readLoop() {
	defer c.finish()
	for {
		b, err := c.conn.ReadFrame()
		if err != nil {
			if c.IsOpen() {
				c.log.Debug().Err(err).Msg("transport.readLoop peer gone")
			}
			c.fail()
			return
		}
		c.mu.Lock()
		closed := c.state == stateClosed
		c.mu.Unlock()
		if closed {
			return
		}
		c.h.OnMessage(b)
	}
}

// fail tears the connection down after an I/O error.
func (c *conduit) fail() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *conduit) finish() {
	c.closeOnce.Do(func() {
		c.h.OnClose()
		close(c.done)
		c.log.Debug().Msg("transport.finish closed")
	})
}
