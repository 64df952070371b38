// Package testhelpers provides common utilities for integration-testing the
// relay server: starting disposable servers on ephemeral ports and driving
// the line protocol as a client would.
package testhelpers

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/nexus-relay/internal/server"
)

// TestConfig returns a config bound to ephemeral localhost ports with short
// timeouts suitable for tests.
func TestConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownGrace = 2 * time.Second
	cfg.AllowedOrigins = []string{"*"}
	// Generous so only tests that opt in hit the limiter.
	cfg.RateLimit.Burst = 1000
	return cfg
}

// StartServer boots a relay server and registers its shutdown as cleanup.
func StartServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()

	srv := server.NewServer(cfg, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown()
	})
	return srv
}

// LineClient drives one TCP connection speaking the newline protocol.
type LineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects a LineClient to addr and registers cleanup.
func Dial(t *testing.T, addr net.Addr) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	client := &LineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	t.Cleanup(client.Close)
	return client
}

// Close shuts the connection down; safe to call twice.
func (c *LineClient) Close() {
	_ = c.conn.Close()
}

// Send writes one line to the server.
func (c *LineClient) Send(line string) {
	c.t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// Expect reads lines until one contains substr and returns it. Lines that do
// not match are discarded, which keeps tests robust against interleaved
// announcements.
func (c *LineClient) Expect(substr string) string {
	c.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		line, err := c.reader.ReadString('\n')
		if err != nil {
			c.t.Fatalf("Timed out waiting for line containing %q: %v", substr, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.Contains(line, substr) {
			return line
		}
	}
}

// ExpectNo asserts that no line containing substr arrives within a short
// window. Other traffic is discarded.
func (c *LineClient) ExpectNo(substr string) {
	c.t.Helper()

	deadline := time.Now().Add(300 * time.Millisecond)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return // timeout: nothing matched
		}
		if strings.Contains(line, substr) {
			c.t.Fatalf("Unexpected line containing %q: %q", substr, strings.TrimSpace(line))
		}
	}
}

// ExpectEOF asserts the server closes the connection.
func (c *LineClient) ExpectEOF() {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := c.reader.ReadString('\n'); err != nil {
			return
		}
	}
}

// Register completes the username handshake and waits for the welcome line.
func (c *LineClient) Register(name string) {
	c.t.Helper()
	c.Expect("Enter username:")
	c.Send(name)
	c.Expect("Welcome " + name + "!")
}

// DialWebSocket connects a WebSocket client to the gateway's /ws endpoint.
func DialWebSocket(t *testing.T, gatewayAddr net.Addr) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("ws://%s/ws", gatewayAddr)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect WebSocket client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// WSExpect reads WebSocket messages until one contains substr.
func WSExpect(t *testing.T, conn *websocket.Conn, substr string) string {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Timed out waiting for WebSocket message containing %q: %v", substr, err)
		}
		msg := string(payload)
		if strings.Contains(msg, substr) {
			return msg
		}
	}
}

// WSSend writes one text message to the gateway.
func WSSend(t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		t.Fatalf("Failed to send WebSocket message %q: %v", line, err)
	}
}
