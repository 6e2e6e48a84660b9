package server

import (
	"errors"
	"io"
	"strings"

	"github.com/Tyrowin/boardchat/internal/board"
	"github.com/Tyrowin/boardchat/internal/relay"
	"golang.org/x/time/rate"
)

// SessionState is the lifecycle stage of one client session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// session interprets the frames of one connection. It owns the connection
// for its whole life and is the only code that unregisters or closes it.
type session struct {
	srv     *Server
	conn    *Connection
	name    string
	handle  string
	limiter *rate.Limiter
	state   SessionState
}

func newSession(srv *Server, conn *Connection) *session {
	return &session{
		srv:     srv,
		conn:    conn,
		limiter: newRateLimiter(srv.cfg.RateLimit.Burst, srv.cfg.RateLimit.RefillInterval),
		state:   StateConnecting,
	}
}

func (s *session) run() {
	defer s.close()

	if !s.identify() {
		return
	}
	s.transition(StateActive)

	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.logReadError(err)
			return
		}
		if !s.handleFrame(frame) {
			return
		}
	}
}

// identify names the client and registers it. It returns false when the
// session must end without becoming active.
func (s *session) identify() bool {
	cfg := s.srv.cfg.Session

	if cfg.RequireClientID {
		s.reply(msgEnterClientID)

		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.logReadError(err)
			return false
		}

		id := strings.TrimSpace(frame)
		if id == "" {
			s.srv.log.Info("Rejected blank client id", "conn_id", s.conn.ID(), "remote_addr", s.conn.RemoteAddr())
			s.reply(msgInvalidClientID)
			return false
		}
		s.conn.SetClientID(id)
		s.name = id
	} else {
		s.name = cfg.AnonymousName
	}

	handle, err := s.srv.registry.Register(s.conn)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			s.srv.log.Info("Rejected duplicate client id", "client_id", s.name, "remote_addr", s.conn.RemoteAddr())
			s.reply(msgDuplicateClientID)
			return false
		}
		s.srv.log.Error("Failed to register client", "conn_id", s.conn.ID(), "error", err)
		return false
	}
	s.handle = handle

	s.reply(welcomeNotice(s.name))
	return true
}

// handleFrame executes one frame and reports whether the session continues.
func (s *session) handleFrame(frame string) bool {
	cmd := ParseCommand(frame)

	switch cmd.Kind {
	case CommandEmpty:
		return true
	case CommandExit:
		s.srv.log.Info("Client requested exit", "client_id", s.name)
		return false
	}

	if !s.limiter.Allow() {
		s.srv.log.Warn("Rate limit exceeded; discarding frame", "client_id", s.name, "burst", s.srv.cfg.RateLimit.Burst, "interval", s.srv.cfg.RateLimit.RefillInterval)
		s.reply(msgRateLimited)
		return true
	}

	switch cmd.Kind {
	case CommandPost:
		s.handlePost(board.ParsePost(cmd.Payload, s.srv.cfg.Board.RequireMetadata))
	case CommandBoardPost:
		s.handlePost(board.NewNote(cmd.Payload))
	case CommandBoardGet:
		s.handleBoardGet()
	case CommandChat:
		s.handleChat(cmd.Payload)
	default:
		s.reply(msgUnknownCommand)
	}
	return true
}

func (s *session) handlePost(post board.Post, err error) {
	if err != nil {
		s.srv.log.Debug("Rejected post", "client_id", s.name, "error", err)
		s.reply(errorReply(err))
		return
	}

	post.Author = s.name
	stored, err := s.srv.board.Append(post)
	if err != nil {
		s.reply(errorReply(err))
		return
	}

	s.srv.log.Info("Post added", "client_id", s.name, "seq", stored.Seq)
	s.srv.announcePost(stored, s.handle)
	s.srv.publish(relay.Event{Kind: relay.EventPost, From: s.name, Post: &stored})
	s.reply(SuccessReply)
}

func (s *session) handleBoardGet() {
	for _, post := range s.srv.board.Snapshot() {
		if !s.reply(post.Content()) {
			return
		}
	}
}

func (s *session) handleChat(text string) {
	if strings.TrimSpace(text) == "" {
		s.reply(msgEmptyChat)
		return
	}

	s.srv.registry.Broadcast(chatLine(s.name, text), s.handle)
	s.srv.publish(relay.Event{Kind: relay.EventChat, From: s.name, Text: text})
}

// reply queues a frame for this session's own client.
func (s *session) reply(frame string) bool {
	if err := s.conn.SendWait(frame); err != nil {
		s.srv.log.Debug("Reply dropped", "conn_id", s.conn.ID(), "error", err)
		return false
	}
	return true
}

func (s *session) logReadError(err error) {
	if errors.Is(err, io.EOF) {
		s.srv.log.Info("Client disconnected", "client_id", s.name, "remote_addr", s.conn.RemoteAddr())
		return
	}
	s.srv.log.Warn("Read failed; closing connection", "client_id", s.name, "remote_addr", s.conn.RemoteAddr(), "error", err)
}

// close runs on every exit path: unregister, release the stream, wait for
// queued frames to flush.
func (s *session) close() {
	s.transition(StateClosing)

	if s.handle != "" {
		s.srv.registry.Unregister(s.handle)
	}
	s.conn.Close()

	<-s.conn.Done()
	s.transition(StateClosed)
}

func (s *session) transition(next SessionState) {
	s.srv.log.Debug("Session state change", "conn_id", s.conn.ID(), "from", s.state, "to", next)
	s.state = next
}
