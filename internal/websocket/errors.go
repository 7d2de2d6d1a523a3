package websocket

import "errors"

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry errors
var (
	ErrNilConnection  = errors.New("connection cannot be nil")
	ErrMissingRelayID = errors.New("connection has no relay id")
)

var ErrUnauthorized = errors.New("relay token rejected")
