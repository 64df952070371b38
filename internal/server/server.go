// Package server owns the TCP accept loop, the concurrent-session limit, and
// shutdown coordination for the relay.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Server ties together the listener, the registry, and the shared router. One
// goroutine runs the accept loop; each accepted connection gets a worker
// goroutine, bounded by a counted semaphore of MaxConnections slots.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	registry *Registry
	router   *Router

	listener net.Listener
	httpSrv  *http.Server
	httpLn   net.Listener
	slots    chan struct{}

	// active tracks every admitted session, registered or not, so shutdown
	// can force-close connections still stuck in the username handshake.
	activeMu sync.Mutex
	active   map[*Session]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a relay server from the given configuration. Call Start
// to begin accepting connections.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry(log)
	return &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
		registry: registry,
		router:   NewRouter(registry),
		slots:    make(chan struct{}, cfg.MaxConnections),
		active:   make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the membership registry, mainly for tests and the
// WebSocket gateway.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the bound TCP listener address, useful when ListenAddr
// requested an ephemeral port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GatewayAddr returns the bound HTTP gateway address.
func (s *Server) GatewayAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Start binds the TCP listener and the HTTP gateway and launches the accept
// loop. It returns once both listeners are bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server start: %w", err)
	}
	s.listener = listener

	if err := s.startGateway(); err != nil {
		listener.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.log.Info().Stringer("addr", listener.Addr()).Int("max_connections", s.cfg.MaxConnections).
		Msg("Chat server started; waiting for connections")
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.log.Error().Err(err).Msg("Error accepting client connection")
			continue
		}

		s.admit(NewTCPConn(conn))
	}
}

// admit claims a concurrency slot for the connection and spawns its worker.
// When every slot is taken, the client is refused with an explicit line and a
// warn log so operators can see the pressure; nothing is silently dropped.
func (s *Server) admit(conn Conn) {
	select {
	case s.slots <- struct{}{}:
	default:
		s.refuse(conn)
		return
	}

	session := NewSession(conn, s.cfg.SendBuffer, s.log)

	// Insertion shares activeMu with the shutdown sweep, so a connection
	// admitted concurrently with Shutdown is either swept there or turned
	// away here; it can never linger unclosed until the grace period.
	s.activeMu.Lock()
	select {
	case <-s.ctx.Done():
		s.activeMu.Unlock()
		<-s.slots
		session.Enqueue("Server is shutting down.")
		session.Close()
		session.Wait()
		return
	default:
	}
	s.active[session] = struct{}{}
	s.activeMu.Unlock()

	s.log.Info().Stringer("peer", conn.RemoteAddr()).Msg("New connection")

	w := newWorker(session, s.registry, s.router, s.cfg, s.log)

	s.wg.Add(1)
	go func() {
		defer func() {
			s.activeMu.Lock()
			delete(s.active, session)
			s.activeMu.Unlock()
			<-s.slots
			s.wg.Done()
		}()
		w.run()
	}()
}

func (s *Server) refuse(conn Conn) {
	s.log.Warn().Stringer("peer", conn.RemoteAddr()).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Connection refused: server at capacity")

	// Best-effort notice before closing; the client never reaches registration.
	_ = conn.WriteLine("Server is full. Please try again later.")
	_ = conn.Close()
}

// Shutdown stops accepting new connections, closes every session, and waits
// up to the configured grace period for in-flight workers to finish.
// Idempotent; returns context.DeadlineExceeded when the grace period expires
// with workers still running.
func (s *Server) Shutdown() error {
	s.log.Info().Msg("Shutting down server...")
	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("Error closing listener")
		}
	}
	s.stopGateway()
	s.registry.Shutdown()

	// Registry.Shutdown only reaches registered sessions; connections still
	// in the handshake are closed here.
	s.activeMu.Lock()
	for session := range s.active {
		session.Close()
	}
	s.activeMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Server shutdown completed")
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn().Dur("grace", s.cfg.ShutdownGrace).
			Msg("Shutdown grace period reached; abandoning remaining workers")
		return context.DeadlineExceeded
	}
}
