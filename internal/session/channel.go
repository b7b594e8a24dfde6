// Package session owns the reliable side of the system: per-participant
// control channels over TCP and the coordinator that keeps the roster and
// the active quality profile in step.
package session

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/alfarid/classcast/internal/wire"
)

// dispatchQueueSize buffers decoded messages between the read loop and the
// handler. A slow handler fills the queue and then back-pressures the read
// loop (and ultimately the peer's TCP window); messages are never dropped.
const dispatchQueueSize = 64

// MessageHandler receives each decoded message in arrival order, off the
// read loop's critical path.
type MessageHandler func(wire.Message)

// ClosedHandler is invoked exactly once when the channel terminates on its
// own: peer disconnect, read error, or protocol violation. It is not invoked
// when the owner called Close first. err is nil for an orderly peer EOF.
type ClosedHandler func(err error)

// ControlChannel is one participant's reliable message connection. It owns
// a framer over the conn, a read loop, and a dispatch goroutine that keeps
// handler execution from stalling subsequent reads. Send may be called
// concurrently from any goroutine; writes are serialized per channel so two
// messages can never interleave their bytes.
type ControlChannel struct {
	log    *slog.Logger
	conn   net.Conn
	framer *wire.Framer

	writeMu sync.Mutex

	handler  MessageHandler
	onClosed ClosedHandler

	queue        chan wire.Message
	readErr      error
	closed       atomic.Bool
	dispatchDone chan struct{}
	closeOnce    sync.Once
}

// NewControlChannel wraps an established connection. maxMsgSize bounds the
// accepted message length (0 selects wire.DefaultMaxMessageSize). Register
// handlers before Start.
func NewControlChannel(conn net.Conn, maxMsgSize uint32, log *slog.Logger) *ControlChannel {
	if log == nil {
		log = slog.Default()
	}
	return &ControlChannel{
		log:          log.With("component", "control-channel", "remote", conn.RemoteAddr().String()),
		conn:         conn,
		framer:       wire.NewFramer(conn, maxMsgSize),
		queue:        make(chan wire.Message, dispatchQueueSize),
		dispatchDone: make(chan struct{}),
	}
}

// OnMessage registers the message handler. Must be called before Start.
func (c *ControlChannel) OnMessage(h MessageHandler) {
	c.handler = h
}

// OnClosed registers the terminal-event handler. Must be called before Start.
func (c *ControlChannel) OnClosed(h ClosedHandler) {
	c.onClosed = h
}

// Start launches the read and dispatch loops.
func (c *ControlChannel) Start() {
	go c.readLoop()
	go c.dispatchLoop()
}

// Send serializes and writes one message. Safe for concurrent use.
func (c *ControlChannel) Send(msg wire.Message) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.Write(msg)
}

// readLoop reads messages until the conn fails or Close fires. A protocol
// violation closes the connection here so one misbehaving participant
// cannot hold its channel open.
func (c *ControlChannel) readLoop() {
	defer close(c.queue)

	for {
		msg, err := c.framer.Read()
		if err != nil {
			if c.closed.Load() {
				return
			}
			switch {
			case errors.Is(err, io.EOF):
				c.log.Info("peer disconnected")
			default:
				var pv *wire.ProtocolError
				if errors.As(err, &pv) {
					c.log.Warn("protocol violation, closing channel", "error", err)
				} else {
					c.log.Warn("read failed", "error", err)
				}
				c.readErr = err
			}
			c.conn.Close()
			return
		}
		c.queue <- msg
	}
}

// dispatchLoop drains the queue into the handler, preserving arrival order,
// then delivers the terminal event unless the owner closed the channel.
func (c *ControlChannel) dispatchLoop() {
	defer close(c.dispatchDone)

	for msg := range c.queue {
		if c.handler != nil {
			c.handler(msg)
		}
	}

	if !c.closed.Load() && c.onClosed != nil {
		c.onClosed(c.readErr)
	}
}

// Close shuts the channel down: the conn close unblocks the read loop, and
// Close waits for the dispatch loop so no handler or terminal callback runs
// after it returns. Idempotent.
func (c *ControlChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
		<-c.dispatchDone
	})
	return nil
}

// RemoteAddr returns the peer address for logging.
func (c *ControlChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
