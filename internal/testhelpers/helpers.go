// Package testhelpers provides common utilities for testing the board server.
//
// It offers a line-protocol client over real sockets, WebSocket helpers and
// HTTP assertions shared by the package tests.
package testhelpers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every expected read.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the Origin header sent by WebSocket test clients.
const TestOrigin = "http://localhost:8080"

// LineClient speaks the newline-delimited protocol over TCP.
type LineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// DialLine connects to addr and registers cleanup with t.
func DialLine(t *testing.T, addr string) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	c := &LineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// Send writes one frame.
func (c *LineClient) Send(line string) {
	c.t.Helper()
	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		c.t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// ReadLine reads one frame, without its line terminator.
func (c *LineClient) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return line, err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Expect fails the test unless the next frame equals want.
func (c *LineClient) Expect(want string) {
	c.t.Helper()
	got, err := c.ReadLine(DefaultTimeout)
	if err != nil {
		c.t.Fatalf("Expected %q, got error: %v", want, err)
	}
	if got != want {
		c.t.Fatalf("Expected %q, got %q", want, got)
	}
}

// ExpectNothing fails the test if a frame arrives within d.
func (c *LineClient) ExpectNothing(d time.Duration) {
	c.t.Helper()
	line, err := c.ReadLine(d)
	if err == nil {
		c.t.Fatalf("Expected no frame, got %q", line)
	}
	if !IsTimeout(err) {
		c.t.Fatalf("Expected read timeout, got %v", err)
	}
}

// ExpectClosed fails the test unless the server closes the stream.
func (c *LineClient) ExpectClosed() {
	c.t.Helper()
	for {
		line, err := c.ReadLine(DefaultTimeout)
		if err == nil {
			c.t.Logf("Discarding frame before close: %q", line)
			continue
		}
		if IsTimeout(err) {
			c.t.Fatal("Expected connection to be closed, but it stayed open")
		}
		return
	}
}

// Close closes the client side of the stream.
func (c *LineClient) Close() {
	_ = c.conn.Close()
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// WaitFor polls cond until it holds or DefaultTimeout passes.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ReadWSFrame reads one text frame with a timeout.
func ReadWSFrame(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := conn.ReadMessage()
	return string(data), err
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
