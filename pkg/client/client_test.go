package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/tinytalk/pkg/api"
	"github.com/tinyland-inc/tinytalk/pkg/config"
	"github.com/tinyland-inc/tinytalk/pkg/rooms"
	"github.com/tinyland-inc/tinytalk/pkg/session"
	"github.com/tinyland-inc/tinytalk/pkg/timeline"
	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

// chatServer is a minimal stand-in for the realtime server: it records
// client frames and lets tests push events back.
type chatServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan wire.Envelope
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	cs := &chatServer{
		conns:  make(chan *websocket.Conn, 2),
		frames: make(chan wire.Envelope, 32),
	}
	upgrader := websocket.Upgrader{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.conns <- ws
		go func() {
			for {
				var env wire.Envelope
				if err := ws.ReadJSON(&env); err != nil {
					close(cs.frames)
					return
				}
				cs.frames <- env
			}
		}()
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-cs.conns:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

func (cs *chatServer) expect(t *testing.T, event string) wire.Envelope {
	t.Helper()
	for {
		select {
		case env, ok := <-cs.frames:
			if !ok {
				t.Fatalf("connection closed before %s arrived", event)
			}
			if env.Event == event {
				return env
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s frame received", event)
		}
	}
}

func (cs *chatServer) send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(env))
}

func testConfig(socketURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.SocketURL = socketURL
	cfg.Reconnect.InitialDelayMS = 10
	cfg.Reconnect.MaxDelayMS = 50
	cfg.SetIdentity(wire.Identity{Name: "alice", Phone: "9999999999", Verified: true})
	return cfg
}

func connectedClient(t *testing.T, cs *chatServer) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(cs.srv.URL, "http")
	c := New(testConfig(url))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

// waitUpdate drains the update channel until kind shows up.
func waitUpdate(t *testing.T, c *Client, kind UpdateKind) Update {
	t.Helper()
	for {
		select {
		case u := <-c.Updates():
			if u.Kind == kind {
				return u
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no update of kind %d", kind)
		}
	}
}

func TestConnect_RequiresVerifiedIdentity(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SetIdentity(wire.Identity{Name: "alice", Phone: "9999999999"})

	c := New(cfg)
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, session.ErrNotVerified)
}

func TestJoinRoom_EmitsRequestAndConsumesHistory(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)
	ws := cs.conn(t)

	require.NoError(t, c.JoinRoom("FAMILY"))
	assert.Equal(t, "FAMILY", c.ActiveRoom())

	env := cs.expect(t, wire.EventRequestJoin)
	var req wire.JoinRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, wire.JoinRequest{Room: "FAMILY", User: "alice", Phone: "9999999999"}, req)

	cs.send(t, ws, wire.EventChatHistory, []wire.ChatMessage{
		{User: "bob", Message: "hello", Time: "10:00"},
		{User: "carol", Message: "hey", Time: "10:01"},
	})

	waitUpdate(t, c, UpdateHistory)
	msgs := c.Timeline("FAMILY")
	require.Len(t, msgs, 2)
	assert.Equal(t, "bob", msgs[0].Sender)
	assert.Equal(t, timeline.Confirmed, msgs[0].State)

	// History delivery is the join confirmation.
	assert.Equal(t, rooms.Approved, c.Rooms().State("FAMILY"))
}

func TestSendMessage_OptimisticThenConfirmed(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)
	ws := cs.conn(t)

	require.NoError(t, c.JoinRoom("FAMILY"))
	cs.expect(t, wire.EventRequestJoin)

	msg, err := c.SendMessage("FAMILY", "lunch?")
	require.NoError(t, err)
	assert.Equal(t, timeline.Optimistic, msg.State)

	env := cs.expect(t, wire.EventSendMessage)
	var out wire.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "lunch?", out.Message)
	assert.Equal(t, "FAMILY", out.Room)

	// Server echo upgrades the optimistic entry in place.
	cs.send(t, ws, wire.EventReceiveMessage, wire.ChatMessage{
		Room: "FAMILY", User: "alice", Message: "lunch?", Time: "10:02",
	})

	require.Eventually(t, func() bool {
		msgs := c.Timeline("FAMILY")
		return len(msgs) == 1 && msgs[0].State == timeline.Confirmed
	}, 2*time.Second, 10*time.Millisecond)

	got := c.Timeline("FAMILY")[0]
	assert.Equal(t, "10:02", got.Timestamp, "server timestamp wins")
}

func TestSendMessage_EmptyBodyRejected(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)

	_, err := c.SendMessage("FAMILY", "")
	require.ErrorIs(t, err, api.ErrValidation)
}

func TestSendMessage_GroupRoomUsesGroupEvent(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)

	require.NoError(t, c.JoinGroup("friends"))
	cs.expect(t, wire.EventJoinGroup)

	_, err := c.SendMessage("friends", "movie tonight")
	require.NoError(t, err)

	env := cs.expect(t, wire.EventSendGroupMessage)
	var out wire.GroupMessage
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, wire.GroupMessage{GroupName: "friends", Sender: "alice", Message: "movie tonight"}, out)
}

func TestIncomingGroupMessage_RoutesByGroupName(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)
	ws := cs.conn(t)

	require.NoError(t, c.JoinGroup("friends"))
	cs.expect(t, wire.EventJoinGroup)

	cs.send(t, ws, wire.EventReceiveGroupMessage, wire.GroupMessage{
		GroupName: "friends", Sender: "bob", Message: "in",
	})

	u := waitUpdate(t, c, UpdateMessage)
	assert.Equal(t, "friends", u.Room)
	msgs := c.Timeline("friends")
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0].Sender)
}

func TestLeave_DropsTimeline(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)

	require.NoError(t, c.JoinRoom("FAMILY"))
	cs.expect(t, wire.EventRequestJoin)
	_, err := c.SendMessage("FAMILY", "hi")
	require.NoError(t, err)
	require.Len(t, c.Timeline("FAMILY"), 1)

	require.NoError(t, c.Leave("FAMILY"))
	cs.expect(t, wire.EventLeave)

	assert.Empty(t, c.Timeline("FAMILY"))
	assert.Empty(t, c.ActiveRoom())
}

func TestClose_LeavesTrackedRoomsLast(t *testing.T) {
	cs := newChatServer(t)
	c := connectedClient(t, cs)
	cs.conn(t)

	require.NoError(t, c.JoinRoom("FAMILY"))
	cs.expect(t, wire.EventRequestJoin)

	require.NoError(t, c.Close(context.Background()))

	var events []string
	for env := range cs.frames {
		events = append(events, env.Event)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, wire.EventLeave, events[len(events)-1])
}
