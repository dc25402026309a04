// Package session owns the single realtime connection to the chat server:
// dialing, outbound emits, inbound dispatch, reconnection and teardown.
// Exactly one Session should be live per process.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/tinytalk/pkg/logger"
	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	// ErrConnection is returned when the realtime channel cannot be
	// established.
	ErrConnection = errors.New("connection failed")
	// ErrDeliveryDeferred signals that an emit was not sent because the
	// session is not connected. The caller decides whether to re-issue it;
	// the session never replays deferred events on its own.
	ErrDeliveryDeferred = errors.New("delivery deferred")
	// ErrNotVerified gates the transport on a completed verification flow.
	ErrNotVerified = errors.New("identity not verified")
)

// RoomKind tells the session which join event to re-issue for a tracked
// room after a reconnect.
type RoomKind int

const (
	KindRoom RoomKind = iota
	KindGroup
)

// Handler receives the raw data payload of an inbound event. Handlers for
// one event run in registration order on the read loop goroutine.
type Handler func(data json.RawMessage)

// Options configures a Session.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string
	// ReconnectMaxAttempts bounds the retry loop after an unexpected drop.
	ReconnectMaxAttempts int
	// ReconnectInitialDelay is the first backoff step; it doubles up to
	// ReconnectMaxDelay.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	// Dialer overrides the websocket dialer. Used in tests.
	Dialer *websocket.Dialer
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ReconnectMaxAttempts <= 0 {
		out.ReconnectMaxAttempts = 5
	}
	if out.ReconnectInitialDelay <= 0 {
		out.ReconnectInitialDelay = 500 * time.Millisecond
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	if out.Dialer == nil {
		out.Dialer = websocket.DefaultDialer
	}
	return out
}

type subEntry struct {
	id uint64
	fn Handler
}

// Session is the transport session. Construct with New, then Connect.
type Session struct {
	opts Options

	mu        sync.Mutex
	state     ConnState
	conn      *websocket.Conn
	identity  wire.Identity
	handlers  map[string][]subEntry
	nextSubID uint64
	tracked   map[string]RoomKind
	stateCB   func(ConnState)

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(opts Options) *Session {
	return &Session{
		opts:     opts.withDefaults(),
		handlers: make(map[string][]subEntry),
		tracked:  make(map[string]RoomKind),
		done:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity the session was connected with.
func (s *Session) Identity() wire.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// OnStateChange registers a callback invoked on every connection state
// transition. The callback runs on the goroutine driving the transition.
func (s *Session) OnStateChange(fn func(ConnState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateCB = fn
}

// Connect dials the realtime channel and authenticates with the verified
// identity. Fails with ErrNotVerified for an unverified identity and
// ErrConnection when the transport cannot be established.
func (s *Session) Connect(ctx context.Context, identity wire.Identity) error {
	if !identity.Verified {
		return ErrNotVerified
	}

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already %s", ErrConnection, s.state)
	}
	s.identity = identity
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(Disconnected)
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.setStateLocked(Connected)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn)

	logger.InfoCF("session", "Connected", map[string]any{"url": s.opts.URL, "phone": identity.Phone})
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("phone", s.identity.Phone)
	q.Set("name", s.identity.Name)
	u.RawQuery = q.Encode()

	conn, _, err := s.opts.Dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// Emit sends an event to the server. Call order is preserved. While the
// session is not Connected it returns ErrDeliveryDeferred so callers can
// show pending state; deferred events are never auto-replayed.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s while %s", ErrDeliveryDeferred, event, s.state)
	}
	conn := s.conn
	s.mu.Unlock()

	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeliveryDeferred, event, err)
	}
	return nil
}

// Subscription is a disposable handle for a registered handler. Every On
// must be paired with a Cancel on teardown; the client facade enforces this
// for its own subscriptions.
type Subscription struct {
	session *Session
	event   string
	id      uint64
}

// Cancel unregisters the handler. Safe to call more than once.
func (sub *Subscription) Cancel() {
	if sub == nil || sub.session == nil {
		return
	}
	sub.session.mu.Lock()
	defer sub.session.mu.Unlock()
	entries := sub.session.handlers[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			sub.session.handlers[sub.event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
}

// On registers a handler for an inbound event. Multiple handlers per event
// are allowed and run in registration order.
func (s *Session) On(event string, fn Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.handlers[event] = append(s.handlers[event], subEntry{id: id, fn: fn})
	return &Subscription{session: s, event: event, id: id}
}

// TrackRoom records a joined room so the session can re-subscribe after a
// reconnect and emit leave before closing.
func (s *Session) TrackRoom(room string, kind RoomKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[room] = kind
}

// UntrackRoom forgets a room after an explicit leave.
func (s *Session) UntrackRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, room)
}

// TrackedRooms returns a snapshot of the rooms the session considers
// joined.
func (s *Session) TrackedRooms() map[string]RoomKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]RoomKind, len(s.tracked))
	for k, v := range s.tracked {
		out[k] = v
	}
	return out
}

// Disconnect tears the session down. On every exit path it emits a leave
// notice for each tracked room before closing the channel, so the server
// releases membership instead of holding stale state.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	identity := s.identity
	rooms := make([]string, 0, len(s.tracked))
	for room := range s.tracked {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })

	if conn != nil {
		s.writeMu.Lock()
		for _, room := range rooms {
			env, err := wire.NewEnvelope(wire.EventLeave, wire.LeaveNotice{Room: room, Phone: identity.Phone})
			if err == nil {
				if werr := conn.WriteJSON(env); werr != nil {
					logger.WarnCF("session", "Leave emit failed during teardown",
						map[string]any{"room": room, "error": werr.Error()})
				}
			}
		}
		deadline := time.Now().Add(time.Second)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		conn.Close()
	}

	s.mu.Lock()
	s.conn = nil
	s.tracked = make(map[string]RoomKind)
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	s.wg.Wait()
	logger.InfoC("session", "Disconnected")
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			logger.WarnCF("session", "Connection dropped", map[string]any{"error": err.Error()})
			next, ok := s.reconnect()
			if !ok {
				return
			}
			conn = next
			continue
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.DebugCF("session", "Unparseable frame dropped", map[string]any{"error": err.Error()})
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env wire.Envelope) {
	s.mu.Lock()
	entries := make([]subEntry, len(s.handlers[env.Event]))
	copy(entries, s.handlers[env.Event])
	s.mu.Unlock()

	for _, e := range entries {
		e.fn(env.Data)
	}
}

// reconnect retries the dial with bounded exponential backoff. On success
// it re-issues join events for tracked rooms; outbound events that failed
// while down are not replayed.
func (s *Session) reconnect() (*websocket.Conn, bool) {
	s.mu.Lock()
	s.conn = nil
	s.setStateLocked(Reconnecting)
	s.mu.Unlock()

	delay := s.opts.ReconnectInitialDelay
	for attempt := 1; attempt <= s.opts.ReconnectMaxAttempts; attempt++ {
		select {
		case <-s.done:
			return nil, false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := s.dial(ctx)
		cancel()
		if err != nil {
			logger.WarnCF("session", "Reconnect attempt failed",
				map[string]any{"attempt": attempt, "error": err.Error()})
			delay *= 2
			if delay > s.opts.ReconnectMaxDelay {
				delay = s.opts.ReconnectMaxDelay
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.setStateLocked(Connected)
		s.mu.Unlock()

		s.resubscribe()
		logger.InfoCF("session", "Reconnected", map[string]any{"attempt": attempt})
		return conn, true
	}

	s.mu.Lock()
	s.setStateLocked(Disconnected)
	s.mu.Unlock()
	logger.ErrorC("session", "Reconnect attempts exhausted")
	return nil, false
}

func (s *Session) resubscribe() {
	identity := s.Identity()
	for room, kind := range s.TrackedRooms() {
		var err error
		switch kind {
		case KindGroup:
			err = s.Emit(wire.EventJoinGroup, wire.GroupJoin{
				GroupName: room, User: identity.Name, Phone: identity.Phone,
			})
		default:
			err = s.Emit(wire.EventRequestJoin, wire.JoinRequest{
				Room: room, User: identity.Name, Phone: identity.Phone,
			})
		}
		if err != nil {
			logger.WarnCF("session", "Re-subscribe failed",
				map[string]any{"room": room, "error": err.Error()})
		}
	}
}

func (s *Session) setStateLocked(state ConnState) {
	if s.state == state {
		return
	}
	s.state = state
	cb := s.stateCB
	if cb != nil {
		// Callback runs outside the lock to avoid re-entrancy deadlocks.
		go cb(state)
	}
}
