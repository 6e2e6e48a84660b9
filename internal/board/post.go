// Package board holds the shared, append-only post log and the rules for
// turning a submitted payload into a post.
package board

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// fieldSeparator splits a structured payload into title, body and metadata.
const fieldSeparator = ";"

var (
	ErrEmptyTitle      = errors.New("title must not be empty")
	ErrEmptyBody       = errors.New("body must not be empty")
	ErrMissingMetadata = errors.New("metadata field is required")
	ErrEmptyContent    = errors.New("content must not be empty")
)

// ValidationError reports a malformed post payload. It is returned to the
// submitting client and is never fatal to its session.
type ValidationError struct {
	Content string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid post: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Post is one board entry. Seq is assigned by Log.Append and equals the
// entry's position in the log.
type Post struct {
	Seq      int       `json:"seq"`
	Author   string    `json:"author,omitempty"`
	Title    string    `json:"title,omitempty"`
	Body     string    `json:"body"`
	Metadata string    `json:"metadata,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// ParsePost decodes a "title;body[;metadata]" payload. Anything after the
// second separator belongs to the metadata field. When requireMetadata is set
// the third field must be present, though it may be empty.
func ParsePost(content string, requireMetadata bool) (Post, error) {
	parts := strings.SplitN(content, fieldSeparator, 3)

	post := Post{Title: parts[0]}
	if len(parts) > 1 {
		post.Body = parts[1]
	}
	if len(parts) > 2 {
		post.Metadata = parts[2]
	}

	switch {
	case strings.TrimSpace(post.Title) == "":
		return Post{}, &ValidationError{Content: content, Err: ErrEmptyTitle}
	case strings.TrimSpace(post.Body) == "":
		return Post{}, &ValidationError{Content: content, Err: ErrEmptyBody}
	case requireMetadata && len(parts) < 3:
		return Post{}, &ValidationError{Content: content, Err: ErrMissingMetadata}
	}

	return post, nil
}

// NewNote builds a free-form post whose whole content is the body.
func NewNote(content string) (Post, error) {
	if strings.TrimSpace(content) == "" {
		return Post{}, &ValidationError{Content: content, Err: ErrEmptyContent}
	}
	return Post{Body: content}, nil
}

// Content renders the post the way clients submitted it.
func (p Post) Content() string {
	if p.Title == "" {
		return p.Body
	}
	if p.Metadata == "" {
		return p.Title + fieldSeparator + p.Body
	}
	return p.Title + fieldSeparator + p.Body + fieldSeparator + p.Metadata
}

// Validate enforces the invariant every stored post satisfies.
func (p Post) Validate() error {
	if strings.TrimSpace(p.Body) == "" {
		return &ValidationError{Content: p.Content(), Err: ErrEmptyBody}
	}
	return nil
}
