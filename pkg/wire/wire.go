// Package wire defines the realtime event names and payload shapes shared
// with the chat server. Field names mirror the server's JSON exactly and
// must not be renamed.
package wire

import "encoding/json"

// Outbound event names.
const (
	EventRequestJoin      = "request-join"
	EventApproveUser      = "approve-user"
	EventSendMessage      = "send-message"
	EventJoinRoom         = "join-room"
	EventJoinGroup        = "join-group"
	EventSendGroupMessage = "send-group-message"
	EventLeave            = "leave"
)

// Inbound event names.
const (
	EventReceiveMessage      = "receive-message"
	EventChatHistory         = "chat-history"
	EventPendingRequests     = "pending-requests"
	EventUserApproved        = "user-approved"
	EventWaitingApproval     = "waiting-approval"
	EventJoinDenied          = "join-denied"
	EventReceiveGroupMessage = "receive-group-message"
	EventGroupCreated        = "group-created"
	EventMemberAdded         = "member-added"
	EventUnauthorized        = "unauthorized"
)

// Identity is the local user as established by OTP verification. Name and
// phone travel in join payloads; Verified is client-side state.
type Identity struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Verified bool   `json:"verified"`
}

// Envelope is the framing for every realtime event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. A nil payload produces an
// envelope with no data field.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = data
	}
	return env, nil
}

// JoinRequest is the payload for request-join and join-room.
type JoinRequest struct {
	Room  string `json:"room"`
	User  string `json:"user"`
	Phone string `json:"phone"`
}

// Approval is the payload for approve-user and user-approved.
type Approval struct {
	Room  string `json:"room"`
	Phone string `json:"phone"`
}

// ChatMessage is the payload for send-message and receive-message, and the
// element type of chat-history.
type ChatMessage struct {
	Room    string `json:"room,omitempty"`
	User    string `json:"user"`
	Message string `json:"message"`
	Time    string `json:"time,omitempty"`
}

// PendingPush is the payload for pending-requests. The pending list is the
// server's authoritative FIFO of join requests for the room.
type PendingPush struct {
	Room    string   `json:"room"`
	Pending []string `json:"pending"`
}

// Denial is the payload for join-denied.
type Denial struct {
	Room   string `json:"room"`
	Phone  string `json:"phone,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// GroupJoin is the payload for join-group.
type GroupJoin struct {
	GroupName string `json:"groupName"`
	User      string `json:"user"`
	Phone     string `json:"phone,omitempty"`
}

// GroupMessage is the payload for send-group-message and
// receive-group-message.
type GroupMessage struct {
	GroupName string `json:"groupName,omitempty"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
}

// GroupCreated is the payload for group-created.
type GroupCreated struct {
	GroupName string `json:"groupName"`
	Admin     string `json:"admin"`
}

// MemberAdded is the payload for member-added.
type MemberAdded struct {
	GroupName string `json:"groupName"`
	Phone     string `json:"phone"`
	Name      string `json:"name,omitempty"`
}

// LeaveNotice is the payload for leave.
type LeaveNotice struct {
	Room  string `json:"room"`
	Phone string `json:"phone"`
}
