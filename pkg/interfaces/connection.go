package interfaces

// Connection is one chat-gateway relay attached over WebSocket.
type Connection interface {
	// WriteJSON sends a JSON frame to the relay. Implementations must be
	// safe for concurrent use.
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources.
	Close() error

	// GetID returns the connection's unique identifier.
	GetID() string

	// IsClosed reports whether Close has already run.
	IsClosed() bool
}
