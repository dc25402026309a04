package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

var verified = wire.Identity{Name: "alice", Phone: "9999999999", Verified: true}

type serverConn struct {
	ws     *websocket.Conn
	query  map[string]string
	frames chan wire.Envelope
}

// wsTestServer accepts websocket clients and records every frame they send.
type wsTestServer struct {
	srv   *httptest.Server
	conns chan *serverConn
	// dropFirst makes the server close the first accepted connection after
	// a short delay, to exercise the reconnect path.
	dropFirst atomic.Bool
	accepted  atomic.Int64
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{conns: make(chan *serverConn, 4)}

	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{
			ws: ws,
			query: map[string]string{
				"phone": r.URL.Query().Get("phone"),
				"name":  r.URL.Query().Get("name"),
			},
			frames: make(chan wire.Envelope, 16),
		}
		ts.conns <- sc

		n := ts.accepted.Add(1)
		if n == 1 && ts.dropFirst.Load() {
			go func() {
				time.Sleep(30 * time.Millisecond)
				ws.Close()
			}()
		}

		go func() {
			defer close(sc.frames)
			for {
				var env wire.Envelope
				if err := ws.ReadJSON(&env); err != nil {
					return
				}
				sc.frames <- env
			}
		}()
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ts.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection accepted")
		return nil
	}
}

func (sc *serverConn) next(t *testing.T) (wire.Envelope, bool) {
	t.Helper()
	select {
	case env, ok := <-sc.frames:
		return env, ok
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received from client")
		return wire.Envelope{}, false
	}
}

func testOptions(url string) Options {
	return Options{
		URL:                   url,
		ReconnectMaxAttempts:  3,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
	}
}

func TestConnect_RequiresVerifiedIdentity(t *testing.T) {
	s := New(testOptions("ws://localhost:1/ws"))
	err := s.Connect(context.Background(), wire.Identity{Name: "alice", Phone: "123"})
	require.ErrorIs(t, err, ErrNotVerified)
	assert.Equal(t, Disconnected, s.State())
}

func TestConnect_FailsWithConnectionError(t *testing.T) {
	s := New(testOptions("ws://127.0.0.1:1/ws"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Connect(ctx, verified)
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Disconnected, s.State())
}

func TestEmit_WhileDisconnectedIsDeferred(t *testing.T) {
	s := New(testOptions("ws://localhost:1/ws"))
	err := s.Emit(wire.EventSendMessage, wire.ChatMessage{Room: "FAMILY", User: "alice", Message: "hi"})
	require.ErrorIs(t, err, ErrDeliveryDeferred)
}

func TestConnectAndEmit(t *testing.T) {
	ts := newWSTestServer(t)
	s := New(testOptions(ts.url()))

	require.NoError(t, s.Connect(context.Background(), verified))
	defer s.Disconnect(context.Background())
	assert.Equal(t, Connected, s.State())

	sc := ts.accept(t)
	assert.Equal(t, "9999999999", sc.query["phone"], "handshake carries identity")
	assert.Equal(t, "alice", sc.query["name"])

	require.NoError(t, s.Emit(wire.EventSendMessage, wire.ChatMessage{
		Room: "FAMILY", User: "alice", Message: "hello",
	}))

	env, ok := sc.next(t)
	require.True(t, ok)
	assert.Equal(t, wire.EventSendMessage, env.Event)

	var msg wire.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hello", msg.Message)
}

func TestOn_HandlersRunInRegistrationOrder(t *testing.T) {
	ts := newWSTestServer(t)
	s := New(testOptions(ts.url()))
	require.NoError(t, s.Connect(context.Background(), verified))
	defer s.Disconnect(context.Background())

	order := make(chan int, 4)
	s.On(wire.EventReceiveMessage, func(json.RawMessage) { order <- 1 })
	s.On(wire.EventReceiveMessage, func(json.RawMessage) { order <- 2 })

	sc := ts.accept(t)
	env, _ := wire.NewEnvelope(wire.EventReceiveMessage, wire.ChatMessage{User: "bob", Message: "yo"})
	require.NoError(t, sc.ws.WriteJSON(env))

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestSubscription_CancelStopsDelivery(t *testing.T) {
	ts := newWSTestServer(t)
	s := New(testOptions(ts.url()))
	require.NoError(t, s.Connect(context.Background(), verified))
	defer s.Disconnect(context.Background())

	got := make(chan string, 4)
	sub := s.On(wire.EventReceiveMessage, func(json.RawMessage) { got <- "first" })
	s.On(wire.EventReceiveMessage, func(json.RawMessage) { got <- "second" })

	sub.Cancel()
	sub.Cancel() // double-cancel is safe

	sc := ts.accept(t)
	env, _ := wire.NewEnvelope(wire.EventReceiveMessage, wire.ChatMessage{User: "bob", Message: "yo"})
	require.NoError(t, sc.ws.WriteJSON(env))

	select {
	case v := <-got:
		assert.Equal(t, "second", v, "cancelled handler must not fire")
	case <-time.After(2 * time.Second):
		t.Fatal("remaining handler never fired")
	}
	select {
	case v := <-got:
		t.Fatalf("unexpected extra delivery: %s", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnect_EmitsLeaveBeforeClose(t *testing.T) {
	ts := newWSTestServer(t)
	s := New(testOptions(ts.url()))
	require.NoError(t, s.Connect(context.Background(), verified))
	sc := ts.accept(t)

	s.TrackRoom("FAMILY", KindRoom)
	require.NoError(t, s.Emit(wire.EventSendMessage, wire.ChatMessage{
		Room: "FAMILY", User: "alice", Message: "bye",
	}))

	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, Disconnected, s.State())

	// Drain everything the server saw; leave must be the last event.
	var events []string
	for env := range sc.frames {
		events = append(events, env.Event)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, wire.EventLeave, events[len(events)-1])
	assert.Equal(t, wire.EventSendMessage, events[0])
}

func TestReconnect_ResubscribesTrackedRooms(t *testing.T) {
	ts := newWSTestServer(t)
	ts.dropFirst.Store(true)

	s := New(testOptions(ts.url()))
	require.NoError(t, s.Connect(context.Background(), verified))
	defer s.Disconnect(context.Background())

	s.TrackRoom("FAMILY", KindRoom)
	ts.accept(t) // first connection, dropped by the server

	// The session should dial again and re-issue the join.
	sc := ts.accept(t)
	env, ok := sc.next(t)
	require.True(t, ok)
	assert.Equal(t, wire.EventRequestJoin, env.Event)

	var req wire.JoinRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, "FAMILY", req.Room)
	assert.Equal(t, "9999999999", req.Phone)

	require.Eventually(t, func() bool { return s.State() == Connected },
		2*time.Second, 10*time.Millisecond)
}

func TestTrackedRooms_Snapshot(t *testing.T) {
	s := New(testOptions("ws://localhost:1/ws"))
	s.TrackRoom("FAMILY", KindRoom)
	s.TrackRoom("friends", KindGroup)
	s.UntrackRoom("FAMILY")

	tracked := s.TrackedRooms()
	assert.Len(t, tracked, 1)
	assert.Equal(t, KindGroup, tracked["friends"])
}
