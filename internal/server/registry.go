// Package server coordinates name registration, message broadcast, and
// session cleanup for the relay via the Registry type.
package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SendResult reports the outcome of a private-message delivery attempt.
type SendResult int

const (
	// SendDelivered means the recipient was online and the message was
	// queued on its outbound buffer.
	SendDelivered SendResult = iota
	// SendRecipientNotFound means no session holds the target name.
	SendRecipientNotFound
)

// Registry is the authoritative mapping from registered display name to
// Session. All membership mutations and lookups serialize on one mutex, so
// registration, removal, broadcast, and listing each observe a consistent
// snapshot. Deliveries inside the lock are non-blocking buffered sends, so a
// slow reader can never stall the registry.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*Session
	closed  bool
	log     zerolog.Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry ready for concurrent use.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		members: make(map[string]*Session),
		log:     log.With().Str("component", "registry").Logger(),
		now:     time.Now,
	}
}

// RegisterResult reports the outcome of a registration attempt.
type RegisterResult int

const (
	// RegisterOK means the session now owns the name.
	RegisterOK RegisterResult = iota
	// RegisterNameTaken means another session holds the name; the caller may
	// retry with a different one.
	RegisterNameTaken
	// RegisterShuttingDown means the registry no longer accepts members.
	RegisterShuttingDown
)

// TryRegister claims name for session. Exactly one of any set of concurrent
// claims on the same name succeeds; the rest observe RegisterNameTaken and may
// retry with a different name without losing their connection. On success the
// remaining members are told that the user joined.
func (r *Registry) TryRegister(name string, session *Session) RegisterResult {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return RegisterShuttingDown
	}
	if _, taken := r.members[name]; taken {
		r.mu.Unlock()
		return RegisterNameTaken
	}
	r.members[name] = session
	count := len(r.members)
	r.mu.Unlock()

	r.log.Info().Str("user", name).Int("online", count).Msg("User registered")
	r.Broadcast(name+" joined the chat!", name)
	return RegisterOK
}

// Unregister removes name from the registry and announces the departure to
// the remaining members. Absent names are a no-op, which makes teardown after
// an explicit quit (or a double quit) idempotent and announce-once.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, present := r.members[name]
	if present {
		delete(r.members, name)
	}
	count := len(r.members)
	r.mu.Unlock()

	if !present {
		return
	}
	r.log.Info().Str("user", name).Int("online", count).Msg("User disconnected")
	r.Broadcast(name+" left the chat!", name)
}

// Broadcast queues line on every member's outbound buffer except the one
// named exclude (pass "" to include everyone). Delivery is lossy under
// overload: a member whose buffer is full simply misses the line.
func (r *Registry) Broadcast(line string, exclude string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, member := range r.members {
		if name == exclude {
			continue
		}
		if !member.Enqueue(line) {
			r.log.Warn().Str("user", name).Msg("Broadcast dropped for slow member")
		}
	}
}

// BroadcastChat formats a plain chat line from sender and fans it out to
// everyone else.
func (r *Registry) BroadcastChat(sender, text string) {
	r.Broadcast(fmt.Sprintf("[%s] %s: %s", r.timestamp(), sender, text), sender)
}

// BroadcastTagged fans out an explicit /broadcast message, tagged so
// recipients can tell it apart from plain chat.
func (r *Registry) BroadcastTagged(sender, text string) {
	r.Broadcast(fmt.Sprintf("[%s] %s (broadcast): %s", r.timestamp(), sender, text), sender)
}

// SendPrivate delivers a timestamped private-tagged message to the member
// named to, and a confirmation to the sender. When the target is absent the
// caller gets SendRecipientNotFound and nobody else hears about it.
func (r *Registry) SendPrivate(from, to, text string) SendResult {
	r.mu.RLock()
	sender, senderOK := r.members[from]
	target, targetOK := r.members[to]
	r.mu.RUnlock()

	if !targetOK {
		return SendRecipientNotFound
	}

	target.Enqueue(fmt.Sprintf("[%s] %s (private): %s", r.timestamp(), from, text))
	if senderOK {
		sender.Enqueue("Private message sent to " + to)
	}
	r.log.Debug().Str("from", from).Str("to", to).Msg("Private message delivered")
	return SendDelivered
}

// ListNames returns a sorted snapshot of the registered names.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	names := lo.Keys(r.members)
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len reports the number of registered members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Shutdown removes and closes every session. Idempotent; the registry accepts
// no further registrations afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := lo.Values(r.members)
	r.members = make(map[string]*Session)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	r.log.Info().Int("sessions", len(sessions)).Msg("Registry shut down; all sessions closed")
}

func (r *Registry) timestamp() string {
	return r.now().Format("15:04:05")
}
