// Package relay fans board and chat events out to other server instances over
// Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/boardchat/internal/board"
	"github.com/Tyrowin/boardchat/pkg/logger"
	"github.com/go-redis/redis/v8"
)

type EventKind string

const (
	EventPost EventKind = "post"
	EventChat EventKind = "chat"
)

// Event is one message crossing instance boundaries.
type Event struct {
	Instance string      `json:"instance"`
	Kind     EventKind   `json:"kind"`
	From     string      `json:"from,omitempty"`
	Text     string      `json:"text,omitempty"`
	Post     *board.Post `json:"post,omitempty"`
	At       time.Time   `json:"at"`
}

// Handler consumes events published by other instances.
type Handler func(Event) error

var ErrInvalidEvent = errors.New("invalid relay event")

// Encode serializes an event for the wire.
func Encode(ev Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses and checks a wire payload.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch ev.Kind {
	case EventPost:
		if ev.Post == nil {
			return Event{}, fmt.Errorf("%w: post event without post", ErrInvalidEvent)
		}
	case EventChat:
		if ev.Text == "" {
			return Event{}, fmt.Errorf("%w: chat event without text", ErrInvalidEvent)
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	if ev.Instance == "" {
		return Event{}, fmt.Errorf("%w: missing instance", ErrInvalidEvent)
	}
	return ev, nil
}

// RedisRelay publishes and subscribes on a single Redis channel.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	instance string
	log      logger.Logger
}

func NewRedisRelay(client *redis.Client, channel, instance string, log logger.Logger) *RedisRelay {
	return &RedisRelay{
		client:   client,
		channel:  channel,
		instance: instance,
		log:      log,
	}
}

// Ping checks that Redis is reachable.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish stamps ev with this instance and sends it.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	ev.Instance = r.instance
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe delivers events from other instances to handler until ctx is
// done. Malformed payloads and handler failures are logged and skipped.
func (r *RedisRelay) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	r.log.Info("Subscribed to relay channel", "channel", r.channel, "instance", r.instance)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg.Payload, handler)

		case <-ctx.Done():
			r.log.Info("Relay subscriber stopped")
			return ctx.Err()
		}
	}
}

func (r *RedisRelay) dispatch(payload string, handler Handler) {
	ev, err := Decode(payload)
	if err != nil {
		r.log.Error("Failed to parse relay event", "payload", payload, "error", err)
		return
	}
	if ev.Instance == r.instance {
		return
	}
	if err := handler(ev); err != nil {
		r.log.Error("Failed to handle relay event", "kind", ev.Kind, "instance", ev.Instance, "error", err)
	}
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
