// Package client is the facade over the chat components: one transport
// session, one room membership controller, one timeline store and the REST
// client, wired together with paired event subscriptions.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/tinytalk/pkg/api"
	"github.com/tinyland-inc/tinytalk/pkg/config"
	"github.com/tinyland-inc/tinytalk/pkg/logger"
	"github.com/tinyland-inc/tinytalk/pkg/rooms"
	"github.com/tinyland-inc/tinytalk/pkg/session"
	"github.com/tinyland-inc/tinytalk/pkg/timeline"
	"github.com/tinyland-inc/tinytalk/pkg/verify"
	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

// UpdateKind classifies what changed for UI consumers.
type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateHistory
	UpdateRooms
	UpdateConnState
)

// Update is a UI notification. Sent best-effort on the Updates channel;
// consumers that fall behind lose intermediate updates, never the state
// itself (state is always re-readable from the components).
type Update struct {
	Kind  UpdateKind
	Room  string
	State session.ConnState
}

// Client owns the chat stack for one local user.
type Client struct {
	cfg      *config.Config
	api      *api.Client
	session  *session.Session
	verify   *verify.Flow
	rooms    *rooms.Controller
	timeline *timeline.Store

	mu         sync.Mutex
	activeRoom string
	subs       []*session.Subscription
	updates    chan Update
}

func New(cfg *config.Config) *Client {
	apiClient := api.NewClient(cfg.Server.BaseURL, api.WithTimeout(cfg.Timeout()))

	sess := session.New(session.Options{
		URL:                   cfg.Server.SocketURL,
		ReconnectMaxAttempts:  cfg.Reconnect.MaxAttempts,
		ReconnectInitialDelay: time.Duration(cfg.Reconnect.InitialDelayMS) * time.Millisecond,
		ReconnectMaxDelay:     time.Duration(cfg.Reconnect.MaxDelayMS) * time.Millisecond,
	})

	return &Client{
		cfg:      cfg,
		api:      apiClient,
		session:  sess,
		verify:   verify.NewFlow(apiClient, time.Duration(cfg.OTP.CooldownSeconds)*time.Second, cfg.OTP.MaxAttempts),
		timeline: timeline.NewStore(),
		updates:  make(chan Update, 64),
	}
}

func (c *Client) API() *api.Client          { return c.api }
func (c *Client) Verify() *verify.Flow      { return c.verify }
func (c *Client) Session() *session.Session { return c.session }
func (c *Client) Rooms() *rooms.Controller  { return c.rooms }
func (c *Client) Updates() <-chan Update    { return c.updates }

// Connect establishes the realtime session for the configured identity and
// wires all inbound event handlers. The identity must be verified first.
func (c *Client) Connect(ctx context.Context) error {
	identity := c.cfg.WireIdentity()
	if err := c.session.Connect(ctx, identity); err != nil {
		return err
	}

	c.rooms = rooms.NewController(c.session, identity)
	c.rooms.OnChange(func(room string) {
		c.push(Update{Kind: UpdateRooms, Room: room})
	})
	c.session.OnStateChange(func(state session.ConnState) {
		c.push(Update{Kind: UpdateConnState, State: state})
	})

	c.subscribe()
	return nil
}

// subscribe registers every inbound handler and records the handles so
// Close can cancel them all. Registration and cancellation are paired here
// once instead of at each call site.
func (c *Client) subscribe() {
	add := func(event string, fn session.Handler) {
		c.mu.Lock()
		c.subs = append(c.subs, c.session.On(event, fn))
		c.mu.Unlock()
	}

	add(wire.EventReceiveMessage, func(data json.RawMessage) {
		var msg wire.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.DebugCF("client", "Bad receive-message payload", map[string]any{"error": err.Error()})
			return
		}
		room := msg.Room
		if room == "" {
			room = c.ActiveRoom()
		}
		if room == "" {
			return
		}
		c.timeline.Get(room).Reconcile(msg.User, msg.Message, msg.Time)
		c.push(Update{Kind: UpdateMessage, Room: room})
	})

	add(wire.EventChatHistory, func(data json.RawMessage) {
		var msgs []wire.ChatMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			logger.DebugCF("client", "Bad chat-history payload", map[string]any{"error": err.Error()})
			return
		}
		room := c.ActiveRoom()
		if room == "" {
			return
		}
		history := make([]timeline.Message, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, timeline.Message{
				Sender:    m.User,
				Body:      m.Message,
				Timestamp: m.Time,
			})
		}
		c.timeline.Get(room).ReplaceHistory(history)
		// History delivery doubles as join confirmation.
		c.rooms.MarkApproved(room)
		c.push(Update{Kind: UpdateHistory, Room: room})
	})

	add(wire.EventPendingRequests, func(data json.RawMessage) {
		var push wire.PendingPush
		if err := json.Unmarshal(data, &push); err != nil {
			return
		}
		c.rooms.HandlePending(push)
	})

	add(wire.EventUserApproved, func(data json.RawMessage) {
		var a wire.Approval
		if err := json.Unmarshal(data, &a); err != nil {
			return
		}
		c.rooms.HandleApproved(a)
	})

	add(wire.EventWaitingApproval, func(json.RawMessage) {
		c.rooms.HandleWaiting(c.ActiveRoom())
	})

	add(wire.EventJoinDenied, func(data json.RawMessage) {
		var d wire.Denial
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		c.rooms.HandleDenied(d)
	})

	add(wire.EventReceiveGroupMessage, func(data json.RawMessage) {
		var msg wire.GroupMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		room := msg.GroupName
		if room == "" {
			room = c.ActiveRoom()
		}
		if room == "" {
			return
		}
		c.timeline.Get(room).Reconcile(msg.Sender, msg.Message, "")
		c.push(Update{Kind: UpdateMessage, Room: room})
	})

	add(wire.EventGroupCreated, func(data json.RawMessage) {
		var g wire.GroupCreated
		if err := json.Unmarshal(data, &g); err != nil {
			return
		}
		c.rooms.HandleGroupCreated(g)
	})

	add(wire.EventMemberAdded, func(data json.RawMessage) {
		var m wire.MemberAdded
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		c.rooms.HandleMemberAdded(m)
	})

	add(wire.EventUnauthorized, func(json.RawMessage) {
		c.rooms.HandleUnauthorized(c.ActiveRoom())
	})
}

// JoinRoom requests membership in an approval-gated room and makes it the
// active room for history and message routing.
func (c *Client) JoinRoom(room string) error {
	c.setActiveRoom(room)
	return c.rooms.RequestJoin(room)
}

// JoinGroup enters a group the user belongs to.
func (c *Client) JoinGroup(group string) error {
	c.setActiveRoom(group)
	return c.rooms.JoinGroup(group)
}

// SendMessage appends the message optimistically and emits it. A deferred
// delivery (session down) still leaves the optimistic entry visible; the
// caller decides whether to re-send, the session never replays it.
func (c *Client) SendMessage(room, body string) (timeline.Message, error) {
	if body == "" {
		return timeline.Message{}, fmt.Errorf("%w: empty message", api.ErrValidation)
	}

	identity := c.session.Identity()
	msg := c.timeline.Get(room).AppendLocal(identity.Name, body, time.Now().Format("15:04"))
	c.push(Update{Kind: UpdateMessage, Room: room})

	snapshot, ok := c.rooms.Snapshot(room)
	var err error
	if ok && snapshot.Kind == session.KindGroup {
		err = c.session.Emit(wire.EventSendGroupMessage, wire.GroupMessage{
			GroupName: room,
			Sender:    identity.Name,
			Message:   body,
		})
	} else {
		err = c.session.Emit(wire.EventSendMessage, wire.ChatMessage{
			Room:    room,
			User:    identity.Name,
			Message: body,
		})
	}
	return msg, err
}

// Pending returns the pending join requests visible for room.
func (c *Client) Pending(room string) []string {
	return c.rooms.Pending(room)
}

// Approve grants a pending join request. Only effective when the server
// recognizes the caller as the room admin.
func (c *Client) Approve(room, phone string) error {
	return c.rooms.Approve(room, phone)
}

// Timeline returns the display-ordered messages for room.
func (c *Client) Timeline(room string) []timeline.Message {
	return c.timeline.Get(room).Messages()
}

// Leave exits a room and discards its timeline so stale events cannot
// mutate it.
func (c *Client) Leave(room string) error {
	if err := c.rooms.Leave(room); err != nil {
		return err
	}
	c.timeline.Drop(room)

	c.mu.Lock()
	if c.activeRoom == room {
		c.activeRoom = ""
	}
	c.mu.Unlock()
	return nil
}

// ActiveRoom returns the room currently bound to history and unrouted
// message events.
func (c *Client) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

func (c *Client) setActiveRoom(room string) {
	c.mu.Lock()
	c.activeRoom = room
	c.mu.Unlock()
}

// Close cancels every subscription, then disconnects the session. The
// session emits leave for all tracked rooms before the channel closes.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return c.session.Disconnect(ctx)
}

func (c *Client) push(u Update) {
	select {
	case c.updates <- u:
	default:
		// UI consumer fell behind; state remains readable from components.
	}
}
