package websocket

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rosterbot/internal/hub"
	"rosterbot/pkg/types"
)

// Frame types sent to relays.
const (
	FrameResponse = "response"
	FrameWelcome  = "welcome"
	FrameError    = "error"
)

// Frame is the envelope of every message the gateway writes.
type Frame struct {
	Type     string          `json:"type"`
	Response *types.Response `json:"response,omitempty"`
	EventID  string          `json:"event_id,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Config tunes the gateway.
type Config struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
	RelayToken      string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		BufferSize:      100,
		MaxMessageBytes: 64 * 1024,
	}
}

// Submitter accepts events for handling. *hub.Hub implements it.
type Submitter interface {
	Submit(ec *hub.EventContext) error
}

// Handler upgrades relay connections and pumps events between relays and
// the hub.
type Handler struct {
	config   Config
	registry *Registry
	events   Submitter
	welcome  func() *types.Response
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a gateway handler. welcome may be nil.
func NewHandler(config Config, registry *Registry, events Submitter, welcome func() *types.Response, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:   config,
		registry: registry,
		events:   events,
		welcome:  welcome,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			// Relays are server-side processes; there is no browser origin to check.
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket authenticates the relay and attaches it.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	relayID := r.URL.Query().Get("relay_id")
	if relayID == "" || !types.IsValidUserID(relayID) {
		http.Error(w, "missing or invalid relay_id", http.StatusBadRequest)
		return
	}
	if err := h.authorize(r); err != nil {
		h.logger.Warn("relay rejected", "relay_id", relayID, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "relay_id", relayID, "err", err)
		return
	}

	conn := NewConnection(ws, relayID, h.config.BufferSize, h.config.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("relay registration failed", "relay_id", relayID, "err", err)
		_ = conn.Close()
		return
	}
	h.logger.Info("relay connected", "relay_id", relayID, "connection_id", conn.GetID())

	if h.welcome != nil {
		if err := conn.WriteJSON(Frame{Type: FrameWelcome, Response: h.welcome()}); err != nil {
			h.logger.Warn("welcome write failed", "relay_id", relayID, "err", err)
		}
	}

	go h.serve(conn, ws)
}

func (h *Handler) authorize(r *http.Request) error {
	if h.config.RelayToken == "" {
		return nil
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.RelayToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// serve runs the read pump and heartbeat until the relay goes away.
func (h *Handler) serve(conn *Connection, ws *websocket.Conn) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.logger.Info("relay disconnected", "relay_id", conn.RelayID(), "connection_id", conn.GetID())
	}()

	if h.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.config.MaxMessageBytes)
	}
	extend := func() error {
		if h.config.ReadTimeout <= 0 {
			return nil
		}
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error { return extend() })

	if h.config.PingInterval > 0 {
		go h.heartbeat(conn, ws)
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("relay read failed", "relay_id", conn.RelayID(), "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(conn, data)
	}
}

func (h *Handler) heartbeat(conn *Connection, ws *websocket.Conn) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}

func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		h.writeError(conn, "", "malformed event")
		return
	}

	err := h.events.Submit(&hub.EventContext{
		Event:      &ev,
		ReceivedAt: time.Now(),
		Reply: func(resp *types.Response) {
			if err := conn.WriteJSON(Frame{Type: FrameResponse, Response: resp}); err != nil {
				h.logger.Warn("response write failed", "relay_id", conn.RelayID(), "event_id", ev.ID, "err", err)
			}
		},
	})
	if err != nil {
		h.logger.Warn("event not accepted", "relay_id", conn.RelayID(), "event_id", ev.ID, "err", err)
		h.writeError(conn, ev.ID, "busy")
	}
}

func (h *Handler) writeError(conn *Connection, eventID, reason string) {
	if err := conn.WriteJSON(Frame{Type: FrameError, EventID: eventID, Error: reason}); err != nil {
		h.logger.Debug("error frame write failed", "relay_id", conn.RelayID(), "err", err)
	}
}
