package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterbot/internal/hub"
	"rosterbot/pkg/types"
)

// echoSubmitter replies to every event synchronously, or refuses it.
type echoSubmitter struct {
	mu     sync.Mutex
	events []*types.Event
	refuse error
}

func (s *echoSubmitter) Submit(ec *hub.EventContext) error {
	if s.refuse != nil {
		return s.refuse
	}
	s.mu.Lock()
	s.events = append(s.events, ec.Event)
	s.mu.Unlock()
	ec.Reply(&types.Response{EventID: ec.Event.ID, Content: "handled " + ec.Event.Kind})
	return nil
}

func (s *echoSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type gateway struct {
	server   *httptest.Server
	registry *Registry
	events   *echoSubmitter
}

func newGateway(t *testing.T, cfg Config) *gateway {
	t.Helper()
	g := &gateway{registry: NewRegistry(nil), events: &echoSubmitter{}}
	welcome := func() *types.Response { return &types.Response{ChannelID: "welcome", Content: "hi"} }
	h := NewHandler(cfg, g.registry, g.events, welcome, nil)
	g.server = httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		g.registry.CloseAll()
		g.server.Close()
	})
	return g
}

func (g *gateway) url(query string) string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http") + "/?" + query
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandler_WelcomeAndRoundTrip(t *testing.T) {
	g := newGateway(t, DefaultConfig())
	conn := dial(t, g.url("relay_id=relay-1"), nil)

	welcome := readFrame(t, conn)
	assert.Equal(t, FrameWelcome, welcome.Type)
	require.NotNil(t, welcome.Response)
	assert.Equal(t, "welcome", welcome.Response.ChannelID)

	assert.Eventually(t, func() bool { return g.registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(types.Event{ID: "ev-1", Kind: types.EventRegister, ActorID: "1001"}))
	f := readFrame(t, conn)
	assert.Equal(t, FrameResponse, f.Type)
	require.NotNil(t, f.Response)
	assert.Equal(t, "ev-1", f.Response.EventID)
	assert.Equal(t, "handled register", f.Response.Content)
	assert.Equal(t, 1, g.events.count())
}

func TestHandler_MalformedEventGetsErrorFrame(t *testing.T) {
	g := newGateway(t, DefaultConfig())
	conn := dial(t, g.url("relay_id=relay-1"), nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "malformed event", f.Error)
	assert.Zero(t, g.events.count())
}

func TestHandler_RefusedEventGetsBusyFrame(t *testing.T) {
	g := newGateway(t, DefaultConfig())
	g.events.refuse = hub.ErrEventChannelFull
	conn := dial(t, g.url("relay_id=relay-1"), nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(types.Event{ID: "ev-9", Kind: types.EventProfile, ActorID: "1001"}))
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "ev-9", f.EventID)
	assert.Equal(t, "busy", f.Error)
}

func TestHandler_RequiresRelayID(t *testing.T) {
	g := newGateway(t, DefaultConfig())

	_, resp, err := websocket.DefaultDialer.Dial(g.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_RelayToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelayToken = "s3cret"
	g := newGateway(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(g.url("relay_id=relay-1"), http.Header{"Authorization": {"Bearer wrong"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, g.url("relay_id=relay-1"), http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, FrameWelcome, readFrame(t, conn).Type)
}

func TestHandler_ReconnectReplacesRelay(t *testing.T) {
	g := newGateway(t, DefaultConfig())

	first := dial(t, g.url("relay_id=relay-1"), nil)
	readFrame(t, first)
	second := dial(t, g.url("relay_id=relay-1"), nil)
	readFrame(t, second)

	// The replaced socket is closed by the gateway.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, 1, g.registry.Count())
	current, ok := g.registry.Get("relay-1")
	require.True(t, ok)
	assert.False(t, current.IsClosed())
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	g := newGateway(t, DefaultConfig())
	conn := dial(t, g.url("relay_id=relay-1"), nil)
	readFrame(t, conn)
	require.Equal(t, 1, g.registry.Count())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return g.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_BroadcastAndUnregisterStale(t *testing.T) {
	g := newGateway(t, DefaultConfig())
	a := dial(t, g.url("relay_id=relay-a"), nil)
	readFrame(t, a)
	b := dial(t, g.url("relay_id=relay-b"), nil)
	readFrame(t, b)
	require.Eventually(t, func() bool { return g.registry.Count() == 2 }, time.Second, 10*time.Millisecond)

	sent := g.registry.Broadcast(Frame{Type: FrameWelcome})
	assert.Equal(t, 2, sent)
	assert.Equal(t, FrameWelcome, readFrame(t, a).Type)
	assert.Equal(t, FrameWelcome, readFrame(t, b).Type)

	stale := &Connection{relayID: "relay-a"}
	g.registry.Unregister(stale)
	_, ok := g.registry.Get("relay-a")
	assert.True(t, ok)

	assert.ErrorIs(t, g.registry.Register(nil), ErrNilConnection)
}
