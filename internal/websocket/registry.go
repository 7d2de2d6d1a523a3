package websocket

import (
	"log/slog"
	"sync"
)

// Registry tracks attached relays by relay id. A relay that reconnects
// replaces, and closes, its previous connection.
type Registry struct {
	mu     sync.RWMutex
	relays map[string]*Connection
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		relays: make(map[string]*Connection),
		logger: logger.With("component", "relay_registry"),
	}
}

// Register adds conn, closing any connection it replaces.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.RelayID() == "" {
		return ErrMissingRelayID
	}

	r.mu.Lock()
	existing, replaced := r.relays[conn.RelayID()]
	r.relays[conn.RelayID()] = conn
	r.mu.Unlock()

	if replaced && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Debug("closing replaced relay failed", "relay_id", existing.RelayID(), "err", err)
			}
		}()
	}
	return nil
}

// Unregister removes conn if it is still the registered connection for its
// relay id. Stale connections never remove their replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.relays[conn.RelayID()]; ok && current == conn {
		delete(r.relays, conn.RelayID())
	}
}

// Get returns the connection for relayID.
func (r *Registry) Get(relayID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.relays[relayID]
	return c, ok
}

// Count returns the number of attached relays.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relays)
}

// Broadcast writes v to every relay and returns how many writes succeeded.
func (r *Registry) Broadcast(v interface{}) int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.relays))
	for _, c := range r.relays {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.WriteJSON(v); err != nil {
			r.logger.Warn("broadcast to relay failed", "relay_id", c.RelayID(), "err", err)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes and forgets every relay.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.relays
	r.relays = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
