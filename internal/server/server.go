package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/boardchat/internal/board"
	"github.com/Tyrowin/boardchat/internal/config"
	"github.com/Tyrowin/boardchat/internal/relay"
	"github.com/Tyrowin/boardchat/pkg/logger"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Publisher forwards local events to other instances.
type Publisher interface {
	Publish(ctx context.Context, ev relay.Event) error
}

// Server owns the client registry and the board and runs one session per
// accepted connection.
type Server struct {
	cfg      config.Config
	log      logger.Logger
	registry *Registry
	board    *board.Log
	relay    Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*Connection]struct{}
	sessions  sync.WaitGroup
}

// Option customizes a Server.
type Option func(*Server)

// WithRelay publishes posts and chats to other instances.
func WithRelay(p Publisher) Option {
	return func(s *Server) {
		s.relay = p
	}
}

// WithBoard shares an existing board log instead of creating one.
func WithBoard(b *board.Log) Option {
	return func(s *Server) {
		s.board = b
	}
}

// New creates a Server from an already sanitized configuration.
func New(cfg config.Config, log logger.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		log:       log,
		registry:  NewRegistry(log),
		board:     board.NewLog(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the client registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Board exposes the post log.
func (s *Server) Board() *board.Log {
	return s.board
}

// ConnectionOptions derives per-connection limits from the configuration.
func (s *Server) ConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		MaxFrameSize:  s.cfg.Server.MaxMessageSize,
		SendQueueSize: s.cfg.Server.SendQueueSize,
		WriteTimeout:  s.cfg.Server.WriteTimeout,
		IdleTimeout:   s.cfg.Server.IdleTimeout,
	}
}

// ListenAndServe listens on the configured TCP address and serves it.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.TCPAddress())
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown, starting one session per
// connection. Temporary accept failures are retried with backoff and never
// affect running sessions.
func (s *Server) Serve(l net.Listener) error {
	if !s.trackListener(l, true) {
		_ = l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)

	s.log.Info("Listening for line protocol clients", "address", l.Addr().String())

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || isTemporary(err) {
				backoff = nextBackoff(backoff)
				s.log.Warn("Accept failed; retrying", "error", err, "backoff", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-s.ctx.Done():
					return ErrServerClosed
				}
			}
			s.log.Error("Accept failed; stopping listener", "error", err)
			return err
		}
		backoff = 0

		s.log.Info("New client connection", "remote_addr", conn.RemoteAddr().String())
		s.ServeConn(NewTCPConnection(conn, s.ConnectionOptions(), s.log))
	}
}

// ServeConn starts a session for conn in its own goroutine and returns
// immediately.
func (s *Server) ServeConn(conn *Connection) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.sessions.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			s.sessions.Done()
		}()
		newSession(s, conn).run()
	}()
}

// Shutdown stops accepting, closes every client connection, including those
// still identifying, and waits for the sessions to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down board server...")

	s.mu.Lock()
	s.cancel()
	for l := range s.listeners {
		if err := l.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("Error closing listener", "error", err)
		}
	}
	conns := make([]*Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	s.log.Info("Closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Board server shutdown completed")
		return nil
	case <-ctx.Done():
		s.log.Warn("Shutdown timeout reached, some sessions may still be running")
		return ctx.Err()
	}
}

// ApplyRemote delivers an event published by another instance to the local
// clients. Remote posts are appended to the local board as well.
func (s *Server) ApplyRemote(ev relay.Event) error {
	switch ev.Kind {
	case relay.EventPost:
		if ev.Post == nil {
			return relay.ErrInvalidEvent
		}
		post := *ev.Post
		post.Seq = 0
		stored, err := s.board.Append(post)
		if err != nil {
			return err
		}
		s.announcePost(stored, "")
	case relay.EventChat:
		s.registry.Broadcast(chatLine(ev.From, ev.Text), "")
	default:
		return relay.ErrInvalidEvent
	}
	return nil
}

// announcePost sends the post notice to every client, leaving out the poster
// unless post notices are echoed.
func (s *Server) announcePost(post board.Post, poster string) {
	exclude := ""
	if !s.cfg.Board.EchoPostNotices {
		exclude = poster
	}
	s.registry.Broadcast(postNotice(post.Content()), exclude)
}

func (s *Server) publish(ev relay.Event) {
	if s.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Server.WriteTimeout)
	defer cancel()
	if err := s.relay.Publish(ctx, ev); err != nil {
		s.log.Warn("Failed to publish relay event", "kind", ev.Kind, "error", err)
	}
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.ctx.Err() != nil {
			return false
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	current *= 2
	if limit := time.Second; current > limit {
		return limit
	}
	return current
}

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
