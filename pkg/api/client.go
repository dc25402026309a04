// Package api implements the HTTP side of the chat server contract: OTP
// issuance and verification, invites, and group management. Realtime traffic
// goes through pkg/session instead.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 15 * time.Second

// Client is a thin wrapper over the server's REST endpoints. Field names in
// request and response bodies follow the server exactly; the presence or
// absence of optional fields (success in particular) is part of the
// contract.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithHTTPClient swaps the underlying resty client. Used in tests.
func WithHTTPClient(r *resty.Client) Option {
	return func(c *Client) { c.http = r }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusResponse is the common {message, success?} body. Success is a
// pointer because some endpoints omit it entirely.
type StatusResponse struct {
	Message string `json:"message"`
	Success *bool  `json:"success,omitempty"`
}

// Member is a user entry in group rosters.
type Member struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Group describes a group and its roster.
type Group struct {
	Name    string   `json:"name"`
	Members []Member `json:"members"`
	Admin   string   `json:"admin"`
}

// User is a dashboard contact entry.
type User struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Requests []string `json:"requests,omitempty"`
	Accepted []string `json:"accepted,omitempty"`
}

// SendOTP requests a one-time code for phone. Name is optional and only
// used at first registration.
func (c *Client) SendOTP(ctx context.Context, phone, name string) (*StatusResponse, error) {
	body := map[string]string{"phone": phone}
	if name != "" {
		body["name"] = name
	}
	return c.postStatus(ctx, "/send-otp", body)
}

// VerifyOTP submits the code for phone. A success:false body is reported as
// ErrServerRejected with the server's message.
func (c *Client) VerifyOTP(ctx context.Context, phone, otp, name string) (*StatusResponse, error) {
	body := map[string]string{"phone": phone, "otp": otp}
	if name != "" {
		body["name"] = name
	}
	return c.postStatus(ctx, "/verify-otp", body)
}

// InviteContact invites phone into room.
func (c *Client) InviteContact(ctx context.Context, phone, room, invitedBy string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/invite-contact", map[string]string{
		"phone":     phone,
		"room":      room,
		"invitedBy": invitedBy,
	})
}

// RoomInvites lists phones invited to room.
func (c *Client) RoomInvites(ctx context.Context, room string) ([]string, error) {
	var out struct {
		Invited []string `json:"invited"`
	}
	if err := c.get(ctx, fmt.Sprintf("/room/%s/invites", room), &out); err != nil {
		return nil, err
	}
	return out.Invited, nil
}

// CreateGroup creates a group with the caller as admin.
func (c *Client) CreateGroup(ctx context.Context, groupName, adminPhone, adminName string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/create-group", map[string]string{
		"groupName":  groupName,
		"adminPhone": adminPhone,
		"adminName":  adminName,
	})
}

// AddGroupMember adds memberPhone to groupName. The server enforces that
// addedBy is the admin; a rejection surfaces as ErrUnauthorized.
func (c *Client) AddGroupMember(ctx context.Context, groupName, memberPhone, addedBy string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/add-group-member", map[string]string{
		"groupName":   groupName,
		"memberPhone": memberPhone,
		"addedBy":     addedBy,
	})
}

// LeaveGroup removes memberPhone from groupName.
func (c *Client) LeaveGroup(ctx context.Context, groupName, memberPhone string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/leave-group", map[string]string{
		"groupName":   groupName,
		"memberPhone": memberPhone,
	})
}

// DeleteGroup deletes groupName. Admin only.
func (c *Client) DeleteGroup(ctx context.Context, groupName, adminPhone string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/delete-group", map[string]string{
		"groupName":  groupName,
		"adminPhone": adminPhone,
	})
}

// ApproveInvite accepts a pending group invite for phone.
func (c *Client) ApproveInvite(ctx context.Context, groupName, phone string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/approve-invite", map[string]string{
		"groupName": groupName,
		"phone":     phone,
	})
}

// GroupInfo fetches a group's details including roster and admin.
func (c *Client) GroupInfo(ctx context.Context, groupName string) (*Group, error) {
	var out Group
	if err := c.get(ctx, "/group/"+groupName, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupMembers fetches the roster for groupName.
func (c *Client) GroupMembers(ctx context.Context, groupName string) ([]Member, error) {
	var out []Member
	if err := c.get(ctx, "/group-members/"+groupName, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MyGroups lists the groups phone belongs to.
func (c *Client) MyGroups(ctx context.Context, phone string) ([]Group, error) {
	var out []Group
	if err := c.get(ctx, "/my-groups/"+phone, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Users lists contacts visible to phone, with request/accept state.
func (c *Client) Users(ctx context.Context, phone string) ([]User, error) {
	var out []User
	if err := c.get(ctx, "/users/"+phone, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendRequest sends a direct-chat request from one phone to another.
func (c *Client) SendRequest(ctx context.Context, from, to string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/send-request", map[string]string{"from": from, "to": to})
}

// AcceptRequest accepts a previously sent direct-chat request.
func (c *Client) AcceptRequest(ctx context.Context, from, to string) (*StatusResponse, error) {
	return c.postStatus(ctx, "/accept-request", map[string]string{"from": from, "to": to})
}

func (c *Client) postStatus(ctx context.Context, path string, body any) (*StatusResponse, error) {
	var out StatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %v", ErrNetwork, path, err)
	}
	if resp.IsError() {
		return nil, &ServerError{Status: resp.StatusCode(), Message: out.Message}
	}
	if out.Success != nil && !*out.Success {
		return nil, &ServerError{Status: resp.StatusCode(), Message: out.Message}
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	var apiErr StatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrNetwork, path, err)
	}
	if resp.IsError() {
		return &ServerError{Status: resp.StatusCode(), Message: apiErr.Message}
	}
	return nil
}
