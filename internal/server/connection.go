package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/boardchat/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionClosed is returned by Send once the connection is closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Send when the peer is not draining its
	// queue. The frame is dropped for that peer only.
	ErrSendQueueFull = errors.New("send queue full")
)

// ConnectionOptions bound the resources of a single connection.
type ConnectionOptions struct {
	MaxFrameSize  int
	SendQueueSize int
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// Connection wraps one accepted stream. Frames handed to Send are queued and
// written by a dedicated write pump, so broadcasters never block on a slow
// peer. The owning session is the only reader and the only caller expected to
// Close it, though Close is safe to call from anywhere.
type Connection struct {
	id   string
	t    transport
	opts ConnectionOptions
	log  logger.Logger

	mu       sync.Mutex
	clientID string

	send     chan string
	closed   atomic.Bool
	stopOnce sync.Once
	quit     chan struct{}

	// flushBy bounds how long queued frames may take to drain after Close.
	flushBy   atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// NewTCPConnection wraps a newline-delimited text stream.
func NewTCPConnection(conn net.Conn, opts ConnectionOptions, log logger.Logger) *Connection {
	opts = sanitizeConnectionOptions(opts)
	return newConnection(newLineTransport(conn, opts.MaxFrameSize), opts, log)
}

// NewWSConnection wraps an upgraded WebSocket; each text message is one frame.
func NewWSConnection(conn *websocket.Conn, addr string, opts ConnectionOptions, log logger.Logger) *Connection {
	opts = sanitizeConnectionOptions(opts)
	return newConnection(newWSTransport(conn, addr, opts.MaxFrameSize), opts, log)
}

func newConnection(t transport, opts ConnectionOptions, log logger.Logger) *Connection {
	c := &Connection{
		id:   uuid.NewString(),
		t:    t,
		opts: opts,
		log:  log,
		send: make(chan string, opts.SendQueueSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func sanitizeConnectionOptions(opts ConnectionOptions) ConnectionOptions {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 4096
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return opts
}

// ID returns the connection's unique handle.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address for logging.
func (c *Connection) RemoteAddr() string {
	return c.t.RemoteAddr()
}

// ClientID returns the identifier chosen by the client, or "" before
// identification.
func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SetClientID records the identifier the client chose.
func (c *Connection) SetClientID(id string) {
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
}

// Closed reports whether Close has been called or the stream failed.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Done is closed once the underlying stream has been released.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send queues one frame for delivery without blocking. Broadcasters use it so
// that a peer which stops reading only loses its own frames.
func (c *Connection) Send(frame string) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendWait queues one frame, waiting for room in the queue. Sessions use it
// for replies to their own client so none are dropped.
func (c *Connection) SendWait(frame string) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.quit:
		return ErrConnectionClosed
	}
}

// ReadFrame blocks until the next frame arrives. It returns io.EOF once the
// connection is closed, whichever side closed it.
func (c *Connection) ReadFrame() (string, error) {
	if c.opts.IdleTimeout > 0 {
		if err := c.t.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout)); err != nil && !isExpectedCloseError(err) {
			return "", err
		}
	}

	frame, err := c.t.ReadFrame()
	if err != nil {
		if c.Closed() || isExpectedCloseError(err) {
			return "", io.EOF
		}
		return "", err
	}
	return frame, nil
}

// Close stops accepting frames, lets the write pump flush what is already
// queued within the write timeout, then releases the stream. Pending reads
// return io.EOF once the stream is released. Close is idempotent.
func (c *Connection) Close() {
	c.stop()
}

func (c *Connection) stop() {
	c.stopOnce.Do(func() {
		c.flushBy.Store(time.Now().Add(c.opts.WriteTimeout).UnixNano())
		c.closed.Store(true)
		close(c.quit)
	})
}

func (c *Connection) writeDeadline() time.Time {
	deadline := time.Now().Add(c.opts.WriteTimeout)
	if flushBy := c.flushBy.Load(); flushBy != 0 {
		if limit := time.Unix(0, flushBy); limit.Before(deadline) {
			return limit
		}
	}
	return deadline
}

func (c *Connection) writePump() {
	var keepAlive <-chan time.Time
	if _, ok := c.t.(pinger); ok {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	defer func() {
		c.stop()
		c.closeTransport()
		close(c.done)
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		case <-keepAlive:
			if err := c.t.(pinger).Ping(c.writeDeadline()); err != nil {
				c.log.Debug("Ping failed", "conn_id", c.id, "error", err)
				return
			}
		case <-c.quit:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued when the connection closes.
func (c *Connection) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(frame string) bool {
	if err := c.t.WriteFrame(frame, c.writeDeadline()); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Write failed", "conn_id", c.id, "remote_addr", c.RemoteAddr(), "error", err)
		}
		return false
	}
	return true
}

func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if err := c.t.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection", "conn_id", c.id, "remote_addr", c.RemoteAddr(), "error", err)
		}
	})
}
