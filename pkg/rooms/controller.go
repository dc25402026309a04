// Package rooms tracks which rooms and groups the local user is joined to,
// the approval workflow for gated rooms, and per-room rosters. The server
// is the source of truth; the controller only mirrors its pushes, with one
// optimistic exception for admin approvals.
package rooms

import (
	"fmt"
	"sync"

	"github.com/tinyland-inc/tinytalk/pkg/api"
	"github.com/tinyland-inc/tinytalk/pkg/logger"
	"github.com/tinyland-inc/tinytalk/pkg/session"
	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

// JoinState is the local join lifecycle for one room. Approved is terminal
// until an explicit Leave.
type JoinState int

const (
	NotRequested JoinState = iota
	Requested
	Approved
	Denied
)

func (s JoinState) String() string {
	switch s {
	case Requested:
		return "requested"
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	default:
		return "not-requested"
	}
}

// Transport is the slice of the session the controller needs. Satisfied by
// *session.Session.
type Transport interface {
	Emit(event string, payload any) error
	TrackRoom(room string, kind session.RoomKind)
	UntrackRoom(room string)
}

// Member is a roster entry.
type Member struct {
	Name  string
	Phone string
}

// Room is the local view of one room's membership state.
type Room struct {
	Name    string
	Kind    session.RoomKind
	State   JoinState
	Pending []string
	Members []Member
	Admin   string
}

// Controller owns the set of rooms for one session.
type Controller struct {
	mu        sync.Mutex
	transport Transport
	identity  wire.Identity
	rooms     map[string]*Room
	onChange  func(room string)
}

func NewController(t Transport, identity wire.Identity) *Controller {
	return &Controller{
		transport: t,
		identity:  identity,
		rooms:     make(map[string]*Room),
	}
}

// OnChange registers a callback fired after any room's state mutates. The
// callback runs on the goroutine applying the mutation.
func (c *Controller) OnChange(fn func(room string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// RequestJoin emits a join request for an approval-gated room. Idempotent:
// a second call while Requested or Approved emits nothing.
func (c *Controller) RequestJoin(room string) error {
	c.mu.Lock()
	r := c.ensureLocked(room, session.KindRoom)
	if r.State == Requested || r.State == Approved {
		c.mu.Unlock()
		return nil
	}
	r.State = Requested
	c.mu.Unlock()

	err := c.transport.Emit(wire.EventRequestJoin, wire.JoinRequest{
		Room:  room,
		User:  c.identity.Name,
		Phone: c.identity.Phone,
	})
	if err != nil {
		c.mu.Lock()
		r.State = NotRequested
		c.mu.Unlock()
		return fmt.Errorf("join request for %s: %w", room, err)
	}

	c.transport.TrackRoom(room, session.KindRoom)
	c.notify(room)
	return nil
}

// JoinGroup enters a group the user is already a member of. Groups have no
// approval gate; the server rejects non-members with unauthorized.
func (c *Controller) JoinGroup(group string) error {
	c.mu.Lock()
	r := c.ensureLocked(group, session.KindGroup)
	if r.State == Approved {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.transport.Emit(wire.EventJoinGroup, wire.GroupJoin{
		GroupName: group,
		User:      c.identity.Name,
		Phone:     c.identity.Phone,
	})
	if err != nil {
		return fmt.Errorf("joining group %s: %w", group, err)
	}

	c.mu.Lock()
	r.State = Approved
	c.mu.Unlock()

	c.transport.TrackRoom(group, session.KindGroup)
	c.notify(group)
	return nil
}

// Approve grants a pending join request. The controller does not check
// admin rights; the server rejects unauthorized approvals. The phone is
// removed from the local pending list optimistically and reconciled by the
// server's next pending-requests push.
func (c *Controller) Approve(room, phone string) error {
	err := c.transport.Emit(wire.EventApproveUser, wire.Approval{Room: room, Phone: phone})
	if err != nil {
		return fmt.Errorf("approving %s for %s: %w", phone, room, err)
	}

	c.mu.Lock()
	if r, ok := c.rooms[room]; ok {
		for i, p := range r.Pending {
			if p == phone {
				r.Pending = append(r.Pending[:i:i], r.Pending[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	c.notify(room)
	return nil
}

// Leave exits a room: emits the leave notice, untracks it, and resets the
// local state so a later join starts over.
func (c *Controller) Leave(room string) error {
	err := c.transport.Emit(wire.EventLeave, wire.LeaveNotice{Room: room, Phone: c.identity.Phone})
	if err != nil {
		return fmt.Errorf("leaving %s: %w", room, err)
	}

	c.transport.UntrackRoom(room)

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()

	c.notify(room)
	return nil
}

// HandlePending applies a pending-requests push: the server list replaces
// the local one wholesale, no merge.
func (c *Controller) HandlePending(push wire.PendingPush) {
	c.mu.Lock()
	r, ok := c.rooms[push.Room]
	if !ok {
		c.mu.Unlock()
		logger.DebugCF("rooms", "Pending push for unknown room dropped",
			map[string]any{"room": push.Room})
		return
	}
	r.Pending = append([]string(nil), push.Pending...)
	c.mu.Unlock()

	c.notify(push.Room)
}

// HandleApproved reacts to a user-approved fan-out. Events about other
// identities or unknown rooms are expected noise from the shared channel
// and are dropped after a debug log. A self-match re-issues the join so the
// server delivers chat history.
func (c *Controller) HandleApproved(a wire.Approval) {
	if a.Phone != c.identity.Phone {
		logger.DebugCF("rooms", "Approval for other identity dropped",
			map[string]any{"room": a.Room, "phone": a.Phone})
		return
	}

	c.mu.Lock()
	r, ok := c.rooms[a.Room]
	if !ok {
		c.mu.Unlock()
		logger.DebugCF("rooms", "Approval for unknown room dropped",
			map[string]any{"room": a.Room})
		return
	}
	already := r.State == Approved
	r.State = Approved
	c.mu.Unlock()

	if !already {
		// Re-issue the join; the server answers with chat-history.
		err := c.transport.Emit(wire.EventRequestJoin, wire.JoinRequest{
			Room:  a.Room,
			User:  c.identity.Name,
			Phone: c.identity.Phone,
		})
		if err != nil {
			logger.WarnCF("rooms", "Post-approval join failed",
				map[string]any{"room": a.Room, "error": err.Error()})
		}
	}
	c.notify(a.Room)
}

// HandleWaiting records that the join is parked on admin approval.
func (c *Controller) HandleWaiting(room string) {
	logger.InfoCF("rooms", "Waiting for approval", map[string]any{"room": room})
}

// HandleDenied marks a denied join. Denials naming another phone are
// ignored.
func (c *Controller) HandleDenied(d wire.Denial) {
	if d.Phone != "" && d.Phone != c.identity.Phone {
		return
	}

	c.mu.Lock()
	r, ok := c.rooms[d.Room]
	if !ok {
		c.mu.Unlock()
		return
	}
	r.State = Denied
	c.mu.Unlock()

	c.transport.UntrackRoom(d.Room)
	c.notify(d.Room)
}

// HandleGroupCreated registers a freshly created group.
func (c *Controller) HandleGroupCreated(g wire.GroupCreated) {
	c.mu.Lock()
	r := c.ensureLocked(g.GroupName, session.KindGroup)
	r.Admin = g.Admin
	c.mu.Unlock()

	c.notify(g.GroupName)
}

// HandleMemberAdded appends to a known room's roster.
func (c *Controller) HandleMemberAdded(m wire.MemberAdded) {
	c.mu.Lock()
	r, ok := c.rooms[m.GroupName]
	if !ok {
		c.mu.Unlock()
		return
	}
	for _, existing := range r.Members {
		if existing.Phone == m.Phone {
			c.mu.Unlock()
			return
		}
	}
	r.Members = append(r.Members, Member{Name: m.Name, Phone: m.Phone})
	c.mu.Unlock()

	c.notify(m.GroupName)
}

// HandleUnauthorized logs and drops an unauthorized notice. These are
// expected when a non-admin attempts an admin action.
func (c *Controller) HandleUnauthorized(room string) {
	logger.WarnCF("rooms", "Unauthorized action rejected by server",
		map[string]any{"room": room, "classification": api.ErrUnauthorized.Error()})
}

// SetRoster replaces a room's roster, typically from a REST group lookup.
func (c *Controller) SetRoster(room string, members []Member, admin string) {
	c.mu.Lock()
	r := c.ensureLocked(room, session.KindGroup)
	r.Members = append([]Member(nil), members...)
	r.Admin = admin
	c.mu.Unlock()

	c.notify(room)
}

// State returns the join state for room.
func (c *Controller) State(room string) JoinState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rooms[room]; ok {
		return r.State
	}
	return NotRequested
}

// Pending returns a copy of the pending join requests for room, in server
// FIFO order.
func (c *Controller) Pending(room string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rooms[room]; ok {
		return append([]string(nil), r.Pending...)
	}
	return nil
}

// Snapshot returns a copy of the room's full state.
func (c *Controller) Snapshot(room string) (Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[room]
	if !ok {
		return Room{}, false
	}
	out := *r
	out.Pending = append([]string(nil), r.Pending...)
	out.Members = append([]Member(nil), r.Members...)
	return out, true
}

// MarkApproved forces a room into Approved. Used when history arrives for a
// room whose approval event was missed (server fan-out races).
func (c *Controller) MarkApproved(room string) {
	c.mu.Lock()
	r := c.ensureLocked(room, session.KindRoom)
	changed := r.State != Approved
	r.State = Approved
	c.mu.Unlock()

	if changed {
		c.notify(room)
	}
}

func (c *Controller) ensureLocked(room string, kind session.RoomKind) *Room {
	r, ok := c.rooms[room]
	if !ok {
		r = &Room{Name: room, Kind: kind, State: NotRequested}
		c.rooms[room] = r
	}
	return r
}

func (c *Controller) notify(room string) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(room)
	}
}
