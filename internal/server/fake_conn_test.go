package server

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is an in-memory Conn for unit tests. Inbound lines are fed through
// a channel; outbound lines are captured on the writes channel so tests can
// assert on what the client would have seen.
type fakeConn struct {
	inbound chan string
	writes  chan string

	mu     sync.Mutex
	closed bool

	// blockWrites, when non-nil, makes WriteLine wait until the channel is
	// closed. Used to test the lossy outbound buffer.
	blockWrites chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan string, 16),
		writes:  make(chan string, 128),
	}
}

func (c *fakeConn) ReadLine() (string, error) {
	line, ok := <-c.inbound
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func (c *fakeConn) WriteLine(line string) error {
	if c.blockWrites != nil {
		<-c.blockWrites
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	c.writes <- line
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
}

// expectLine waits for an outbound line containing substr, skipping unrelated
// lines on the way.
func expectLine(t *testing.T, c *fakeConn, substr string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line := <-c.writes:
			if strings.Contains(line, substr) {
				return line
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for line containing %q", substr)
			return ""
		}
	}
}

// expectNoLine asserts that no outbound line containing substr shows up
// within a short window.
func expectNoLine(t *testing.T, c *fakeConn, substr string) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case line := <-c.writes:
			if strings.Contains(line, substr) {
				t.Fatalf("Unexpected line containing %q: %q", substr, line)
			}
		case <-timeout:
			return
		}
	}
}

// newTestSession builds a registered-looking session over a fresh fakeConn.
func newTestSession(t *testing.T, name string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	session := NewSession(conn, 16, zerolog.Nop())
	session.SetName(name)
	session.SetPhase(PhaseActive)
	t.Cleanup(func() {
		session.Close()
		session.Wait()
	})
	return session, conn
}
