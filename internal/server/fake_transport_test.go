package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/boardchat/pkg/logger"
)

// fakeTransport records written frames and serves scripted reads. When gate
// is non-nil every write waits for it to be closed, simulating a peer that
// stopped reading.
type fakeTransport struct {
	reads   chan string
	written chan string
	gate    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:   make(chan string, 16),
		written: make(chan string, 1024),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() (string, error) {
	select {
	case frame, ok := <-f.reads:
		if !ok {
			return "", io.EOF
		}
		return frame, nil
	case <-f.closed:
		return "", net.ErrClosed
	}
}

func (f *fakeTransport) WriteFrame(frame string, _ time.Time) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closed:
			return net.ErrClosed
		}
	}
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.written <- frame
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "fake" }

func newFakeConnection(clientID string) (*Connection, *fakeTransport) {
	ft := newFakeTransport()
	conn := newConnection(ft, sanitizeConnectionOptions(ConnectionOptions{SendQueueSize: 8, WriteTimeout: time.Second}), logger.NewNop())
	conn.SetClientID(clientID)
	return conn, ft
}

// nextWritten waits for the next frame written to ft.
func nextWritten(ft *fakeTransport, timeout time.Duration) (string, bool) {
	select {
	case frame := <-ft.written:
		return frame, true
	case <-time.After(timeout):
		return "", false
	}
}
