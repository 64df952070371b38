// Package server dispatches inbound chat lines to registry operations via the
// Router type.
package server

import (
	"fmt"
	"strings"
)

const (
	usageMsg       = "Usage: /msg <username> <message>"
	usageBroadcast = "Usage: /broadcast <message>"
	invalidCommand = "Invalid command. Available commands: /list, /msg, /broadcast, /quit"
)

// Router turns one trimmed line of client input into registry operations
// and/or replies to the issuing session. It holds no state of its own beyond
// the registry handle, so a single Router is shared by every worker.
type Router struct {
	registry *Registry
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Route processes one line from session and returns true when the worker
// should tear the connection down. Empty lines are ignored; lines starting
// with "/" are commands matched case-insensitively on the first token;
// anything else is plain chat broadcast to everyone but the sender.
func (rt *Router) Route(session *Session, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return rt.routeCommand(session, line)
	}

	rt.registry.BroadcastChat(session.Name(), line)
	return false
}

func (rt *Router) routeCommand(session *Session, line string) bool {
	command, rest := splitToken(line)

	switch strings.ToLower(command) {
	case "/quit":
		session.Enqueue("Goodbye!")
		return true

	case "/list":
		names := rt.registry.ListNames()
		session.Enqueue(fmt.Sprintf("Online users (%d): %s", len(names), strings.Join(names, ", ")))

	case "/msg":
		rt.routePrivate(session, rest)

	case "/broadcast":
		if rest == "" {
			session.Enqueue(usageBroadcast)
			return false
		}
		rt.registry.BroadcastTagged(session.Name(), rest)
		session.Enqueue("Message broadcasted to all users.")

	default:
		session.Enqueue(invalidCommand)
	}
	return false
}

// routePrivate handles "/msg <target> <message...>". The message body is the
// untouched remainder after the second token, so it may contain spaces.
func (rt *Router) routePrivate(session *Session, rest string) {
	target, body := splitToken(rest)
	if target == "" || body == "" {
		session.Enqueue(usageMsg)
		return
	}

	switch rt.registry.SendPrivate(session.Name(), target, body) {
	case SendRecipientNotFound:
		session.Enqueue("User " + target + " not found or offline")
	case SendDelivered:
	}
}

// splitToken splits off the first whitespace-delimited token and returns it
// together with the trimmed remainder.
func splitToken(s string) (token, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
