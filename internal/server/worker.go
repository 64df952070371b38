// Package server drives each connection through its lifecycle: registration
// handshake, active read loop, and guaranteed unregister on every exit path.
package server

import (
	"strings"

	"github.com/rs/zerolog"
)

const welcomeBlock = `Commands:
  /list - Show online users
  /msg <username> <message> - Send private message
  /broadcast <message> - Send message to all users
  /quit - Disconnect from server
You can also just type a message to broadcast to everyone.`

// worker owns exactly one session and is the only goroutine reading from its
// transport. It runs the Registering -> Active -> Closing progression and
// always attempts unregistration before exiting, so an abrupt transport
// failure cleans up the same way an explicit /quit does.
type worker struct {
	session  *Session
	registry *Registry
	router   *Router
	limiter  *rateLimiter
	limit    RateLimitConfig
	log      zerolog.Logger
}

func newWorker(session *Session, registry *Registry, router *Router, cfg Config, log zerolog.Logger) *worker {
	return &worker{
		session:  session,
		registry: registry,
		router:   router,
		limiter:  newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		limit:    cfg.RateLimit,
		log:      log.With().Stringer("session", session.ID()).Logger(),
	}
}

// run executes the full session lifecycle and returns once the session is
// terminated and its transport released.
func (w *worker) run() {
	defer w.teardown()

	if !w.register() {
		return
	}
	w.serve()
}

// register repeats the username prompt until the registry accepts a name.
// Blank input is rejected locally without touching the registry; a collision
// is reported to the client and the prompt repeats on the same connection.
// Returns false when the client disconnects before completing registration.
func (w *worker) register() bool {
	for {
		w.session.Enqueue("Enter username: ")

		input, err := w.session.ReadLine()
		if err != nil {
			w.log.Debug().Err(err).Msg("Client left during registration")
			return false
		}

		name := strings.TrimSpace(input)
		if name == "" {
			w.session.Enqueue("Invalid username. Please try again.")
			continue
		}

		switch w.registry.TryRegister(name, w.session) {
		case RegisterNameTaken:
			w.session.Enqueue("Username already taken. Please try again.")
			continue
		case RegisterShuttingDown:
			w.log.Debug().Msg("Registration refused; server shutting down")
			w.session.Enqueue("Server is shutting down.")
			return false
		}

		w.session.SetName(name)
		w.session.SetPhase(PhaseActive)
		w.session.Enqueue("Welcome " + name + "! You are now connected to the chat server.")
		w.session.Enqueue(welcomeBlock)
		return true
	}
}

// serve is the active read loop: one line in, one Route call, until the
// transport errors out or the router signals quit.
func (w *worker) serve() {
	for {
		line, err := w.session.ReadLine()
		if err != nil {
			if !isExpectedCloseError(err) {
				w.log.Debug().Err(err).Str("user", w.session.Name()).Msg("Read failed; closing session")
			}
			return
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		if !w.limiter.allow() {
			w.log.Warn().Str("user", w.session.Name()).
				Int("burst", w.limit.Burst).Dur("interval", w.limit.RefillInterval).
				Msg("Rate limit exceeded; discarding message")
			w.session.Enqueue("You are sending messages too fast. Message discarded.")
			continue
		}

		if w.router.Route(w.session, line) {
			return
		}
	}
}

// teardown is the Closing state: unregister (a no-op if registration never
// completed or already ran), then release the transport.
func (w *worker) teardown() {
	if name := w.session.Name(); name != "" {
		w.registry.Unregister(name)
	}
	w.session.Close()
	w.session.Wait()
}
