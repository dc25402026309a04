package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/tinytalk/pkg/client"
	"github.com/tinyland-inc/tinytalk/pkg/config"
	"github.com/tinyland-inc/tinytalk/pkg/timeline"
	"github.com/tinyland-inc/tinytalk/pkg/verify"
	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

// fakeServer stands in for the chat backend: the OTP endpoints plus one
// websocket room with an echo of every message.
type fakeServer struct {
	http   *httptest.Server
	frames chan wire.Envelope
	conns  chan *websocket.Conn
}

func newFakeServer(t *testing.T, otp string) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		frames: make(chan wire.Envelope, 32),
		conns:  make(chan *websocket.Conn, 2),
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/send-otp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"message": "OTP sent"})
	})
	mux.HandleFunc("/verify-otp", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OTP string `json:"otp"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body.OTP != otp {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "Invalid OTP"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "verified"})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- ws
		go fs.serveConn(ws)
	})

	fs.http = httptest.NewServer(mux)
	t.Cleanup(fs.http.Close)
	return fs
}

// serveConn auto-approves joins with history and echoes messages back, the
// way the real server confirms delivery.
func (fs *fakeServer) serveConn(ws *websocket.Conn) {
	for {
		var env wire.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		fs.frames <- env

		switch env.Event {
		case wire.EventRequestJoin:
			out, _ := wire.NewEnvelope(wire.EventChatHistory, []wire.ChatMessage{
				{User: "bob", Message: "welcome", Time: "09:00"},
			})
			ws.WriteJSON(out)
		case wire.EventSendMessage:
			var msg wire.ChatMessage
			json.Unmarshal(env.Data, &msg)
			msg.Time = "09:01"
			out, _ := wire.NewEnvelope(wire.EventReceiveMessage, msg)
			ws.WriteJSON(out)
		}
	}
}

func (fs *fakeServer) socketURL() string {
	return "ws" + strings.TrimPrefix(fs.http.URL, "http") + "/ws"
}

// TestLoginChatFlow walks the whole user journey: OTP verification, identity
// persistence, realtime connect, room join with history, and a confirmed
// message round trip.
func TestLoginChatFlow(t *testing.T) {
	fs := newFakeServer(t, "123456")

	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = fs.http.URL
	cfg.Server.SocketURL = fs.socketURL()
	cfg.Reconnect.InitialDelayMS = 10
	cfg.Reconnect.MaxDelayMS = 50

	c := client.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Step 1: verify the phone number.
	flow := c.Verify()
	if err := flow.RequestOTP(ctx, "alice", "9999999999"); err != nil {
		t.Fatalf("requesting OTP: %v", err)
	}
	if _, err := flow.SubmitOTP(ctx, "000000"); err == nil {
		t.Fatal("wrong OTP accepted")
	}
	identity, err := flow.SubmitOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("submitting OTP: %v", err)
	}
	if !identity.Verified {
		t.Fatal("identity not marked verified")
	}

	// Step 2: persist the identity the way the login command does.
	cfg.SetIdentity(identity)
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := config.SaveConfig(cfgPath, cfg); err != nil {
		t.Fatalf("saving config: %v", err)
	}
	loaded, err := config.LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if !loaded.Identity.Verified || loaded.Identity.Phone != "9999999999" {
		t.Fatalf("identity did not survive the roundtrip: %+v", loaded.Identity)
	}

	// Step 3: connect and join the default room.
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer c.Close(context.Background())

	if err := c.JoinRoom("FAMILY"); err != nil {
		t.Fatalf("joining room: %v", err)
	}

	waitFor(t, "history", func() bool {
		msgs := c.Timeline("FAMILY")
		return len(msgs) == 1 && msgs[0].Sender == "bob"
	})

	// Step 4: send a message and wait for the server echo to confirm it.
	sent, err := c.SendMessage("FAMILY", "made it home")
	if err != nil {
		t.Fatalf("sending message: %v", err)
	}
	if sent.State != timeline.Optimistic {
		t.Fatal("sent message should start optimistic")
	}

	waitFor(t, "confirmation", func() bool {
		msgs := c.Timeline("FAMILY")
		if len(msgs) != 2 {
			return false
		}
		last := msgs[len(msgs)-1]
		return last.State == timeline.Confirmed && last.Timestamp == "09:01"
	})

	// The server must have seen exactly one join and one send.
	seen := map[string]int{}
	for len(fs.frames) > 0 {
		env := <-fs.frames
		seen[env.Event]++
	}
	if seen[wire.EventRequestJoin] != 1 {
		t.Errorf("request-join count: got %d, want 1", seen[wire.EventRequestJoin])
	}
	if seen[wire.EventSendMessage] != 1 {
		t.Errorf("send-message count: got %d, want 1", seen[wire.EventSendMessage])
	}
}

// TestOTPCooldownEndToEnd verifies a second immediate OTP request is refused
// locally without touching the server.
func TestOTPCooldownEndToEnd(t *testing.T) {
	fs := newFakeServer(t, "123456")

	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = fs.http.URL
	cfg.OTP.CooldownSeconds = 3600

	c := client.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Verify().RequestOTP(ctx, "alice", "9999999999"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := c.Verify().RequestOTP(ctx, "alice", "9999999999"); err == nil {
		t.Fatal("second request inside the cooldown should fail")
	}
	if c.Verify().State() != verify.StateOtpSent {
		t.Errorf("state: got %v, want %v", c.Verify().State(), verify.StateOtpSent)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
