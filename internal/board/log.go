package board

import (
	"sync"
	"time"
)

// Log is the append-only, ordered sequence of posts shared by every session.
// Appends are whole-record and serialized; snapshots are copies that callers
// may iterate without holding any lock.
type Log struct {
	mu    sync.RWMutex
	posts []Post
	now   func() time.Time
}

// NewLog creates an empty board log.
func NewLog() *Log {
	return &Log{
		posts: make([]Post, 0, 64),
		now:   time.Now,
	}
}

// Append stores post and returns its sequence index. The stored copy carries
// the assigned Seq and a PostedAt stamp if the caller left it zero.
func (l *Log) Append(post Post) (Post, error) {
	if err := post.Validate(); err != nil {
		return Post{}, err
	}
	if post.PostedAt.IsZero() {
		post.PostedAt = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	post.Seq = len(l.posts)
	l.posts = append(l.posts, post)
	return post, nil
}

// Snapshot returns every post appended before the call, in append order.
func (l *Log) Snapshot() []Post {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Post, len(l.posts))
	copy(out, l.posts)
	return out
}

// Len reports the number of stored posts.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.posts)
}
