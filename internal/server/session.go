// Package server manages individual client sessions, handling the outbound
// write loop, lifecycle phases, and buffered best-effort delivery.
package server

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase tracks where a session is in its lifecycle. The owning worker is the
// only writer; the registry reads it to skip sends racing with teardown.
type Phase int32

const (
	// PhaseRegistering covers the window between accept and a successful
	// name registration.
	PhaseRegistering Phase = iota
	// PhaseActive means the session owns a registered name and receives
	// chat traffic.
	PhaseActive
	// PhaseClosing means teardown has begun; new sends are dropped.
	PhaseClosing
)

// Session represents one connected, possibly-registered client. The worker
// goroutine exclusively owns the transport; everyone else reaches the client
// through Enqueue, which feeds the session's single write loop.
type Session struct {
	id    uuid.UUID
	conn  Conn
	log   zerolog.Logger
	phase atomic.Int32

	// name is set exactly once, when registration succeeds. Atomic: the
	// registry publishes the session before the worker assigns the name, so
	// broadcasts may read it concurrently.
	name atomic.Value

	outbound  chan string
	done      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

// NewSession creates a session around an accepted connection and starts its
// write loop. bufferSize bounds the outbound queue; once full, further sends
// are dropped rather than blocking the sender.
func NewSession(conn Conn, bufferSize int, log zerolog.Logger) *Session {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	s := &Session{
		id:       uuid.New(),
		conn:     conn,
		outbound: make(chan string, bufferSize),
		done:     make(chan struct{}),
	}
	s.log = log.With().Stringer("session", s.id).Stringer("peer", conn.RemoteAddr()).Logger()
	s.phase.Store(int32(PhaseRegistering))

	s.writerWG.Add(1)
	go s.writeLoop()
	return s
}

// ID returns the session's unique identifier, used for log correlation.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Name returns the registered display name, or "" before registration.
func (s *Session) Name() string {
	name, _ := s.name.Load().(string)
	return name
}

// SetName assigns the display name. Called once by the worker when the
// registry accepts the registration; the name is immutable afterwards.
func (s *Session) SetName(name string) {
	s.name.Store(name)
}

// CurrentPhase reports the session's lifecycle phase.
func (s *Session) CurrentPhase() Phase {
	return Phase(s.phase.Load())
}

// SetPhase moves the session to the given lifecycle phase.
func (s *Session) SetPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Enqueue queues one line for delivery. Delivery is best-effort: a session
// that is closing, or whose buffer is full, drops the line and returns false.
func (s *Session) Enqueue(line string) bool {
	if s.CurrentPhase() == PhaseClosing {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbound <- line:
		return true
	default:
		s.log.Warn().Str("user", s.Name()).Msg("Outbound buffer full; dropping message")
		return false
	}
}

// ReadLine blocks on the next inbound line from the client.
func (s *Session) ReadLine() (string, error) {
	return s.conn.ReadLine()
}

// Close moves the session to Closing, stops the write loop after draining any
// queued lines, and closes the transport. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.SetPhase(PhaseClosing)
		close(s.done)
	})
}

// Wait blocks until the write loop has flushed and the transport is closed.
func (s *Session) Wait() {
	s.writerWG.Wait()
}

// writeLoop is the session's single writer. Serializing all writes through one
// goroutine keeps per-recipient ordering intact and means a write error only
// has one place to surface.
func (s *Session) writeLoop() {
	defer func() {
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("Error closing connection in write loop")
		}
		s.writerWG.Done()
	}()

	for {
		select {
		case line := <-s.outbound:
			if err := s.conn.WriteLine(line); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Debug().Err(err).Msg("Write failed; abandoning session output")
				}
				return
			}
		case <-s.done:
			s.drainOutbound()
			return
		}
	}
}

// drainOutbound flushes whatever is already queued so farewell lines sent just
// before Close still reach the client, best-effort.
func (s *Session) drainOutbound() {
	for {
		select {
		case line := <-s.outbound:
			if err := s.conn.WriteLine(line); err != nil {
				return
			}
		default:
			return
		}
	}
}
