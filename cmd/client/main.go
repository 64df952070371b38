// The client command is an interactive terminal client for the Nexus relay.
// Usage: client [host] [port]. It connects, relays stdin lines to the server,
// and prints inbound traffic with light coloring for readability.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gookit/color"
)

const (
	defaultHost = "localhost"
	defaultPort = 8888
)

func main() {
	host, port := parseArgs(os.Args[1:])
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		color.Red.Printf("Failed to connect to server: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	color.Green.Printf("Connected to chat server at %s\n", addr)

	// The receive goroutine owns all printing of server traffic; closing
	// done tells the main loop the server went away.
	done := make(chan struct{})
	go receive(conn, done)

	input := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-done:
			color.Yellow.Println("Connection lost with server")
			return
		default:
		}

		if !input.Scan() {
			fmt.Fprintln(conn, "/quit")
			return
		}
		line := strings.TrimSpace(input.Text())
		if line == "" {
			continue
		}

		if _, err := fmt.Fprintln(conn, line); err != nil {
			color.Yellow.Println("Connection lost with server")
			return
		}
		if strings.EqualFold(line, "/quit") {
			<-done
			color.Green.Println("Disconnected from server")
			return
		}
	}
}

func receive(conn net.Conn, done chan<- struct{}) {
	defer close(done)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		printLine(strings.TrimRight(line, "\r\n"))
	}
}

// printLine colors server traffic by shape: private messages magenta,
// join/leave and server notices green, everything else plain.
func printLine(line string) {
	switch {
	case strings.Contains(line, "(private):"):
		color.Magenta.Println(line)
	case strings.HasSuffix(line, "joined the chat!") || strings.HasSuffix(line, "left the chat!"):
		color.Green.Println(line)
	case strings.HasPrefix(line, "Enter username:"):
		color.Cyan.Print(line + " ")
	default:
		fmt.Println(line)
	}
}

func parseArgs(args []string) (string, int) {
	host := defaultHost
	port := defaultPort

	if len(args) >= 1 {
		host = args[0]
	}
	if len(args) >= 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil || parsed <= 0 || parsed > 65535 {
			color.Yellow.Printf("Invalid port number. Using default port %d\n", defaultPort)
		} else {
			port = parsed
		}
	}
	return host, port
}
