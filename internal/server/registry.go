package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Tyrowin/boardchat/pkg/logger"
)

// ErrAlreadyExists is returned by Register when the handle or client id is
// already taken. The existing member is unaffected.
var ErrAlreadyExists = errors.New("already exists")

// Registry tracks the connections currently able to receive broadcasts.
// Membership changes and snapshots are serialized by one RWMutex; frames are
// always sent after the lock is released, so a slow peer never stalls
// registration of others.
type Registry struct {
	members    map[string]*Connection // handle -> connection
	byClientID map[string]string      // client id -> handle
	mutex      sync.RWMutex
	log        logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		members:    make(map[string]*Connection),
		byClientID: make(map[string]string),
		log:        log,
	}
}

// Register adds conn and returns its handle. A non-empty client id must be
// unique among members.
func (r *Registry) Register(conn *Connection) (string, error) {
	handle := conn.ID()
	clientID := conn.ClientID()

	r.mutex.Lock()
	if _, exists := r.members[handle]; exists {
		r.mutex.Unlock()
		return "", fmt.Errorf("connection %s: %w", handle, ErrAlreadyExists)
	}
	if clientID != "" {
		if _, taken := r.byClientID[clientID]; taken {
			r.mutex.Unlock()
			return "", fmt.Errorf("client id %q: %w", clientID, ErrAlreadyExists)
		}
		r.byClientID[clientID] = handle
	}
	r.members[handle] = conn
	count := len(r.members)
	r.mutex.Unlock()

	r.log.Info("Client registered", "conn_id", handle, "client_id", clientID, "remote_addr", conn.RemoteAddr(), "total_clients", count)
	return handle, nil
}

// Unregister removes the member with the given handle. Removing an absent
// handle is a no-op.
func (r *Registry) Unregister(handle string) {
	r.mutex.Lock()
	conn, ok := r.members[handle]
	if !ok {
		r.mutex.Unlock()
		return
	}
	delete(r.members, handle)
	clientID := conn.ClientID()
	if clientID != "" && r.byClientID[clientID] == handle {
		delete(r.byClientID, clientID)
	}
	count := len(r.members)
	r.mutex.Unlock()

	r.log.Info("Client unregistered", "conn_id", handle, "client_id", clientID, "total_clients", count)
}

// Broadcast delivers frame to every member registered at call time except
// the one whose handle is exclude (pass "" to exclude nobody). Peers that are
// closing or not draining are skipped; the broadcaster never closes or
// unregisters them. It returns the number of peers the frame was queued for.
func (r *Registry) Broadcast(frame string, exclude string) int {
	targets := r.snapshot()

	delivered := 0
	for _, conn := range targets {
		if exclude != "" && conn.ID() == exclude {
			continue
		}
		if err := conn.Send(frame); err != nil {
			if !errors.Is(err, ErrConnectionClosed) {
				r.log.Warn("Skipping broadcast target", "conn_id", conn.ID(), "client_id", conn.ClientID(), "error", err)
			}
			continue
		}
		delivered++
	}

	r.log.Debug("Broadcast complete", "targets", len(targets), "delivered", delivered)
	return delivered
}

// ForEach calls fn for every member registered at call time. fn runs without
// the registry lock held and may call back into the registry.
func (r *Registry) ForEach(fn func(*Connection)) {
	for _, conn := range r.snapshot() {
		fn(conn)
	}
}

// Lookup finds a member by client id.
func (r *Registry) Lookup(clientID string) (*Connection, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	handle, ok := r.byClientID[clientID]
	if !ok {
		return nil, false
	}
	conn, ok := r.members[handle]
	return conn, ok
}

// Len reports the number of members.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.members)
}

// ClientIDs returns the client ids of identified members.
func (r *Registry) ClientIDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.byClientID))
	for id := range r.byClientID {
		ids = append(ids, id)
	}
	return ids
}

// snapshot returns a thread-safe copy of all current members.
func (r *Registry) snapshot() []*Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	clients := make([]*Connection, 0, len(r.members))
	for _, conn := range r.members {
		clients = append(clients, conn)
	}
	return clients
}
