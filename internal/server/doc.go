// Package server implements the core relay: the line-protocol TCP listener,
// the WebSocket gateway, the name registry, and per-connection workers.
//
// The implementation is organized into specialized files for configuration,
// registry, routing, sessions, and transports to keep the codebase
// maintainable and testable as the project grows.
package server
