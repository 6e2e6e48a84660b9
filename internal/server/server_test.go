package server_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/boardchat/internal/board"
	"github.com/Tyrowin/boardchat/internal/config"
	"github.com/Tyrowin/boardchat/internal/relay"
	"github.com/Tyrowin/boardchat/internal/server"
	"github.com/Tyrowin/boardchat/internal/testhelpers"
	"github.com/Tyrowin/boardchat/pkg/logger"
)

const quiet = 100 * time.Millisecond

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.WriteTimeout = time.Second
	cfg.RateLimit.Burst = 1000
	cfg.Stats.Schedule = ""
	return config.Sanitize(cfg)
}

// startServer runs a board server on an ephemeral port and shuts it down when
// the test ends.
func startServer(t *testing.T, mutate func(*config.Config), opts ...server.Option) (*server.Server, string) {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	srv := server.New(cfg, logger.NewNop(), opts...)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(l)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		if err := <-serveErr; !errors.Is(err, server.ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed from Serve, got %v", err)
		}
	})

	return srv, l.Addr().String()
}

// join connects and completes identification as id.
func join(t *testing.T, addr, id string) *testhelpers.LineClient {
	t.Helper()
	c := testhelpers.DialLine(t, addr)
	c.Expect("[server] enter client id")
	c.Send(id)
	c.Expect("[server] welcome, " + id)
	return c
}

func TestBoardPostThenGet(t *testing.T) {
	_, addr := startServer(t, nil)
	a := join(t, addr, "A")

	a.Send("BOARD POST hello world")
	a.Expect("[post] hello world")
	a.Expect("SUCCESS")

	a.Send("BOARD GET")
	a.Expect("hello world")
	a.ExpectNothing(quiet)
}

func TestBoardGetEmptyBoard(t *testing.T) {
	_, addr := startServer(t, nil)
	a := join(t, addr, "A")

	a.Send("BOARD GET")
	a.ExpectNothing(quiet)
}

func TestBoardGetReturnsPostsInOrder(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := join(t, addr, "A")

	for i := 1; i <= 3; i++ {
		a.Send(fmt.Sprintf("POST:Title %d;Body %d", i, i))
		a.Expect(fmt.Sprintf("[post] Title %d;Body %d", i, i))
		a.Expect("SUCCESS")
	}

	a.Send("BOARD GET")
	for i := 1; i <= 3; i++ {
		a.Expect(fmt.Sprintf("Title %d;Body %d", i, i))
	}
	a.ExpectNothing(quiet)

	posts := srv.Board().Snapshot()
	for i, post := range posts {
		if post.Seq != i {
			t.Errorf("Post %d has seq %d", i, post.Seq)
		}
		if post.Author != "A" {
			t.Errorf("Expected author A, got %q", post.Author)
		}
	}
}

func TestStructuredPostNotifiesEveryone(t *testing.T) {
	_, addr := startServer(t, nil)
	a := join(t, addr, "A")
	b := join(t, addr, "B")

	a.Send("POST:Title;Body;Extra")

	b.Expect("[post] Title;Body;Extra")
	a.Expect("[post] Title;Body;Extra")
	a.Expect("SUCCESS")
	b.ExpectNothing(quiet)
}

func TestStructuredPostWithoutEcho(t *testing.T) {
	_, addr := startServer(t, func(cfg *config.Config) {
		cfg.Board.EchoPostNotices = false
	})
	a := join(t, addr, "A")
	b := join(t, addr, "B")

	a.Send("POST:Title;Body;Extra")

	b.Expect("[post] Title;Body;Extra")
	a.Expect("SUCCESS")
	a.ExpectNothing(quiet)
}

func TestInvalidPostIsRejected(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := join(t, addr, "A")
	b := join(t, addr, "B")

	a.Send("POST:;Body;Extra")
	a.Expect("ERROR invalid post: title must not be empty")
	b.ExpectNothing(quiet)

	a.Send("BOARD POST    ")
	a.Expect("ERROR invalid post: content must not be empty")

	if n := srv.Board().Len(); n != 0 {
		t.Errorf("Expected empty board, got %d posts", n)
	}

	// The session survives validation errors.
	a.Send("BOARD GET")
	a.ExpectNothing(quiet)
}

func TestRequiredMetadata(t *testing.T) {
	_, addr := startServer(t, func(cfg *config.Config) {
		cfg.Board.RequireMetadata = true
	})
	a := join(t, addr, "A")

	a.Send("POST:Title;Body")
	a.Expect("ERROR invalid post: metadata field is required")

	a.Send("POST:Title;Body;")
	a.Expect("[post] Title;Body")
	a.Expect("SUCCESS")
}

func TestChatExcludesSender(t *testing.T) {
	_, addr := startServer(t, nil)
	a := join(t, addr, "A")
	b := join(t, addr, "B")
	c := join(t, addr, "C")

	a.Send("CHAT hi")

	b.Expect("A: hi")
	c.Expect("A: hi")
	a.ExpectNothing(quiet)
}

func TestEmptyChatIsRejected(t *testing.T) {
	_, addr := startServer(t, nil)
	a := join(t, addr, "A")
	b := join(t, addr, "B")

	a.Send("CHAT    ")
	a.Expect("ERROR empty chat message")
	b.ExpectNothing(quiet)
}

func TestUnknownAndEmptyFrames(t *testing.T) {
	_, addr := startServer(t, nil)
	a := join(t, addr, "A")

	a.Send("")
	a.Send("   ")
	a.Send("HELLO")
	a.Expect("ERROR unknown command")
	a.ExpectNothing(quiet)
}

func TestDisconnectRemovesClient(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := join(t, addr, "A")
	b := join(t, addr, "B")

	if n := srv.Registry().Len(); n != 2 {
		t.Fatalf("Expected 2 clients, got %d", n)
	}

	a.Close()
	testhelpers.WaitFor(t, "A to be unregistered", func() bool {
		_, ok := srv.Registry().Lookup("A")
		return !ok
	})

	b.Send("CHAT still here")
	b.ExpectNothing(quiet)

	// The id is free again once its owner is gone.
	join(t, addr, "A")
}

func TestExitClosesSession(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := join(t, addr, "A")

	a.Send("exit")
	a.ExpectClosed()

	testhelpers.WaitFor(t, "registry to be empty", func() bool {
		return srv.Registry().Len() == 0
	})
}

func TestDuplicateClientID(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := join(t, addr, "A")

	dup := testhelpers.DialLine(t, addr)
	dup.Expect("[server] enter client id")
	dup.Send("A")
	dup.Expect("ERROR client id already in use")
	dup.ExpectClosed()

	if n := srv.Registry().Len(); n != 1 {
		t.Errorf("Expected 1 client, got %d", n)
	}

	b := join(t, addr, "B")
	b.Send("CHAT hello")
	a.Expect("B: hello")
}

func TestBlankClientID(t *testing.T) {
	srv, addr := startServer(t, nil)

	c := testhelpers.DialLine(t, addr)
	c.Expect("[server] enter client id")
	c.Send("   ")
	c.Expect("ERROR invalid client id")
	c.ExpectClosed()

	if n := srv.Registry().Len(); n != 0 {
		t.Errorf("Expected no clients, got %d", n)
	}
}

func TestAnonymousSessions(t *testing.T) {
	srv, addr := startServer(t, func(cfg *config.Config) {
		cfg.Session.RequireClientID = false
		cfg.Session.AnonymousName = "Someone"
	})

	a := testhelpers.DialLine(t, addr)
	a.Expect("[server] welcome, Someone")
	b := testhelpers.DialLine(t, addr)
	b.Expect("[server] welcome, Someone")

	testhelpers.WaitFor(t, "both clients to register", func() bool {
		return srv.Registry().Len() == 2
	})

	a.Send("CHAT hi")
	b.Expect("Someone: hi")
	a.ExpectNothing(quiet)
}

func TestRateLimitedFrames(t *testing.T) {
	_, addr := startServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Burst = 2
		cfg.RateLimit.RefillInterval = time.Hour
	})
	a := join(t, addr, "A")
	b := join(t, addr, "B")

	a.Send("CHAT one")
	a.Send("CHAT two")
	a.Send("CHAT three")

	b.Expect("A: one")
	b.Expect("A: two")
	b.ExpectNothing(quiet)
	a.Expect("ERROR rate limit exceeded")

	// EXIT is never rate limited.
	a.Send("EXIT")
	a.ExpectClosed()
}

func TestShutdownClosesAllSessions(t *testing.T) {
	srv, addr := startServer(t, nil)
	a := join(t, addr, "A")

	// Still identifying when the server stops.
	pending := testhelpers.DialLine(t, addr)
	pending.Expect("[server] enter client id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	a.ExpectClosed()
	pending.ExpectClosed()

	if n := srv.Registry().Len(); n != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", n)
	}

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("Expected listener to be closed after shutdown")
	}
}

func TestConcurrentPosters(t *testing.T) {
	srv, addr := startServer(t, func(cfg *config.Config) {
		cfg.Board.EchoPostNotices = false
	})

	const (
		clients = 8
		posts   = 10
	)

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := join(t, addr, fmt.Sprintf("poster-%d", i))
		wg.Add(1)
		go func(i int, c *testhelpers.LineClient) {
			defer wg.Done()
			for j := 0; j < posts; j++ {
				c.Send(fmt.Sprintf("BOARD POST %d-%d", i, j))
			}
		}(i, c)
	}
	wg.Wait()

	testhelpers.WaitFor(t, "all posts to be stored", func() bool {
		return srv.Board().Len() == clients*posts
	})

	seen := make(map[string]bool)
	for i, post := range srv.Board().Snapshot() {
		if post.Seq != i {
			t.Fatalf("Post %d has seq %d", i, post.Seq)
		}
		if seen[post.Body] {
			t.Fatalf("Post %q stored twice", post.Body)
		}
		seen[post.Body] = true
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []relay.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev relay.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() []relay.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]relay.Event(nil), p.events...)
}

func TestRelayPublishesLocalEvents(t *testing.T) {
	pub := &recordingPublisher{}
	_, addr := startServer(t, nil, server.WithRelay(pub))
	a := join(t, addr, "A")

	a.Send("POST:Title;Body")
	a.Expect("[post] Title;Body")
	a.Expect("SUCCESS")

	a.Send("CHAT hi")

	testhelpers.WaitFor(t, "two relay events", func() bool {
		return len(pub.snapshot()) == 2
	})

	events := pub.snapshot()
	if events[0].Kind != relay.EventPost || events[0].Post == nil || events[0].Post.Content() != "Title;Body" {
		t.Errorf("Unexpected post event: %+v", events[0])
	}
	if events[1].Kind != relay.EventChat || events[1].From != "A" || events[1].Text != "hi" {
		t.Errorf("Unexpected chat event: %+v", events[1])
	}
}

func TestApplyRemoteEvents(t *testing.T) {
	shared := board.NewLog()
	srv, addr := startServer(t, nil, server.WithBoard(shared))
	a := join(t, addr, "A")

	err := srv.ApplyRemote(relay.Event{
		Instance: "other",
		Kind:     relay.EventPost,
		From:     "Z",
		Post:     &board.Post{Seq: 41, Author: "Z", Title: "Remote", Body: "Post"},
	})
	if err != nil {
		t.Fatalf("ApplyRemote post failed: %v", err)
	}
	a.Expect("[post] Remote;Post")

	if err := srv.ApplyRemote(relay.Event{Instance: "other", Kind: relay.EventChat, From: "Z", Text: "hey"}); err != nil {
		t.Fatalf("ApplyRemote chat failed: %v", err)
	}
	a.Expect("Z: hey")

	if err := srv.ApplyRemote(relay.Event{Instance: "other", Kind: relay.EventPost}); !errors.Is(err, relay.ErrInvalidEvent) {
		t.Errorf("Expected ErrInvalidEvent, got %v", err)
	}

	posts := shared.Snapshot()
	if len(posts) != 1 || posts[0].Seq != 0 {
		t.Fatalf("Expected the remote post stored at seq 0, got %+v", posts)
	}
}
