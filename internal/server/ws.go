// Package server exposes the HTTP gateway: a health endpoint and a WebSocket
// upgrade that joins clients to the same chat room as the TCP listener.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to the line-oriented Conn interface:
// one WebSocket text message carries one protocol line.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadLine() (string, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(payload), "\r\n"), nil
}

func (c *wsConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// startGateway binds the HTTP listener and serves the health check and the
// /ws upgrade endpoint.
func (s *Server) startGateway() error {
	origins := newOriginChecker(s.cfg.AllowedOrigins, s.log)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.healthHandler)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.websocketHandler(&upgrader, w, r)
	})

	listener, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	s.httpLn = listener

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("HTTP gateway stopped unexpectedly")
		}
	}()

	s.log.Info().Stringer("addr", listener.Addr()).Msg("WebSocket gateway listening")
	return nil
}

func (s *Server) stopGateway() {
	if s.httpSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Debug().Err(err).Msg("HTTP gateway shutdown error")
	}
}

// websocketHandler upgrades the request and hands the connection to the same
// admission path as TCP clients, so capacity and registration behave
// identically across transports.
func (s *Server) websocketHandler(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.admit(&wsConn{conn: conn})
}

// healthHandler reports liveness for load balancers and the curious.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Nexus relay server is running!"))
}
