// Package transport defines the interface for the network surfaces that
// expose sessions to clients.
//
// Each transport (HTTP/WebSocket, gRPC) implements this interface and is
// started by main. Transports hold no session state themselves; they drive
// the session manager they were built with.
package transport

import "context"

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "http", "grpc").
	Name() string

	// Listen starts serving. It blocks until the context is cancelled.
	Listen(ctx context.Context) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
