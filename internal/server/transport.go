package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// transport moves whole text frames over one stream. ReadFrame is only called
// from the owning session goroutine and WriteFrame only from the write pump,
// so implementations need no locking of their own.
type transport interface {
	ReadFrame() (string, error)
	WriteFrame(frame string, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// pinger is implemented by transports with a protocol-level keep-alive.
type pinger interface {
	Ping(deadline time.Time) error
}

// lineTransport frames a byte stream as newline-delimited UTF-8 text.
type lineTransport struct {
	conn    net.Conn
	addr    string
	scanner *bufio.Scanner
	writer  *bufio.Writer
}

func newLineTransport(conn net.Conn, maxFrameSize int) *lineTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(1024, maxFrameSize)), maxFrameSize)
	return &lineTransport{
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		scanner: scanner,
		writer:  bufio.NewWriter(conn),
	}
}

func (t *lineTransport) ReadFrame() (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSuffix(t.scanner.Text(), "\r"), nil
}

func (t *lineTransport) WriteFrame(frame string, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if _, err := t.writer.WriteString(frame); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *lineTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *lineTransport) Close() error {
	return t.conn.Close()
}

func (t *lineTransport) RemoteAddr() string {
	return t.addr
}

// wsTransport carries one frame per WebSocket text message.
type wsTransport struct {
	conn *websocket.Conn
	addr string
}

func newWSTransport(conn *websocket.Conn, addr string, maxFrameSize int) *wsTransport {
	conn.SetReadLimit(int64(maxFrameSize))
	t := &wsTransport{conn: conn, addr: addr}
	t.setupReadDeadline()
	return t
}

// setupReadDeadline configures read deadlines and the pong handler so a
// silent peer is dropped after pongWait.
func (t *wsTransport) setupReadDeadline() {
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (t *wsTransport) ReadFrame() (string, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				return "", io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", fmt.Errorf("frame exceeds limit: %w", err)
			}
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (t *wsTransport) WriteFrame(frame string, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (t *wsTransport) Ping(deadline time.Time) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// SetReadDeadline only ever extends the keep-alive window; the pong handler
// owns the deadline otherwise.
func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	if deadline.IsZero() {
		return nil
	}
	return t.conn.SetReadDeadline(deadline)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.addr
}
