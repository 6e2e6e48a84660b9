package server

import (
	"errors"
	"io"
	"net"
	"strings"
)

// Outbound frame prefixes. Clients rely on these to tell frame kinds apart.
const (
	PostNoticePrefix   = "[post] "
	ServerNoticePrefix = "[server] "
	ErrorPrefix        = "ERROR "
	SuccessReply       = "SUCCESS"
)

// Replies sent to a single client.
const (
	msgEnterClientID     = ServerNoticePrefix + "enter client id"
	msgInvalidClientID   = ErrorPrefix + "invalid client id"
	msgDuplicateClientID = ErrorPrefix + "client id already in use"
	msgUnknownCommand    = ErrorPrefix + "unknown command"
	msgEmptyChat         = ErrorPrefix + "empty chat message"
	msgRateLimited       = ErrorPrefix + "rate limit exceeded"
)

func welcomeNotice(name string) string {
	return ServerNoticePrefix + "welcome, " + name
}

func postNotice(content string) string {
	return PostNoticePrefix + content
}

func chatLine(from, text string) string {
	return from + ": " + text
}

func errorReply(err error) string {
	return ErrorPrefix + err.Error()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
