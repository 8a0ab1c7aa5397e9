// Package server implements the core WebSocket relay for the chat system.
//
// The implementation is organized into specialized files for configuration,
// the session registry, the hub, clients, routing, and HTTP handlers to keep
// the codebase maintainable and testable as the project grows.
package server
