// Package server wraps raw transports behind a line-oriented Conn interface
// so the session and worker logic stay transport-agnostic.
package server

import (
	"bufio"
	"net"
	"strings"
	"time"
)

// Conn is the minimal duplex line transport a Session needs. TCP sockets and
// WebSocket connections both satisfy it through the adapters below.
type Conn interface {
	// ReadLine blocks until one full line arrives and returns it without the
	// trailing newline. Any error (including EOF) means the connection is done.
	ReadLine() (string, error)

	// WriteLine sends one line, appending the newline framing itself.
	WriteLine(line string) error

	// Close releases the underlying transport. Safe to call more than once.
	Close() error

	// RemoteAddr reports the peer address for logging.
	RemoteAddr() net.Addr
}

const writeTimeout = 10 * time.Second

// tcpConn adapts a net.Conn to the line protocol with buffered reads.
type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPConn wraps an accepted socket in the line-oriented Conn interface.
func NewTCPConn(conn net.Conn) Conn {
	return &tcpConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (c *tcpConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
