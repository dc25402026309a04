// Package verify implements the phone verification gate: request an OTP,
// submit it, come out the other side with a verified identity. No chat
// functionality is reachable until the flow lands in StateVerified.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinyland-inc/tinytalk/pkg/api"
	"github.com/tinyland-inc/tinytalk/pkg/logger"
	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

type State int

const (
	StateIdle State = iota
	StateOtpSent
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOtpSent:
		return "otp-sent"
	case StateVerified:
		return "verified"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidPhone is reported before any network call when the phone
	// fails the digit-format check.
	ErrInvalidPhone = fmt.Errorf("%w: phone must be 7-15 digits", api.ErrValidation)
	// ErrInvalidOTP is the server-reported wrong-code failure. State stays
	// OtpSent so the user can retry.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrExpired means the code lapsed; the flow drops back to Idle.
	ErrExpired = errors.New("otp expired")
	// ErrNotSent is returned when SubmitOTP is called with no outstanding
	// code for this flow.
	ErrNotSent = errors.New("no otp requested")
)

// Flow is the verification state machine for a single identity.
type Flow struct {
	mu          sync.Mutex
	api         *api.Client
	state       State
	name        string
	phone       string
	limiter     *rate.Limiter
	cooldown    time.Duration
	attempts    int
	maxAttempts int
}

func NewFlow(client *api.Client, cooldown time.Duration, maxAttempts int) *Flow {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Flow{
		api:         client,
		state:       StateIdle,
		limiter:     rate.NewLimiter(rate.Every(cooldown), 1),
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// RequestOTP asks the server to send a one-time code. A second call within
// the cooldown window, or past the attempt cap, fails with ErrRateLimited
// without touching the network.
func (f *Flow) RequestOTP(ctx context.Context, name, phone string) error {
	if !validPhone(phone) {
		return ErrInvalidPhone
	}

	f.mu.Lock()
	if f.state == StateVerified {
		f.mu.Unlock()
		return fmt.Errorf("%w: already verified", api.ErrValidation)
	}
	if phone != f.phone {
		// Fresh target phone resets the resend budget.
		f.limiter = rate.NewLimiter(rate.Every(f.cooldown), 1)
		f.attempts = 0
	}
	if f.attempts >= f.maxAttempts {
		f.mu.Unlock()
		return fmt.Errorf("%w: otp attempt limit reached", api.ErrRateLimited)
	}
	if !f.limiter.Allow() {
		f.mu.Unlock()
		return fmt.Errorf("%w: resend cooldown active", api.ErrRateLimited)
	}
	f.attempts++
	f.name = name
	f.phone = phone
	f.mu.Unlock()

	if _, err := f.api.SendOTP(ctx, phone, name); err != nil {
		return fmt.Errorf("requesting otp: %w", err)
	}

	f.mu.Lock()
	f.state = StateOtpSent
	f.mu.Unlock()

	logger.InfoCF("verify", "OTP requested", map[string]any{"phone": phone})
	return nil
}

// SubmitOTP hands the code to the server. On success the flow transitions
// to Verified and returns the confirmed identity.
func (f *Flow) SubmitOTP(ctx context.Context, otp string) (wire.Identity, error) {
	f.mu.Lock()
	if f.state != StateOtpSent {
		f.mu.Unlock()
		return wire.Identity{}, ErrNotSent
	}
	name, phone := f.name, f.phone
	f.mu.Unlock()

	_, err := f.api.VerifyOTP(ctx, phone, otp, name)
	if err != nil {
		var srvErr *api.ServerError
		if errors.As(err, &srvErr) {
			if strings.Contains(strings.ToLower(srvErr.Message), "expired") {
				f.mu.Lock()
				f.state = StateIdle
				f.mu.Unlock()
				return wire.Identity{}, fmt.Errorf("%w: %s", ErrExpired, srvErr.Message)
			}
			// Wrong code: stay in OtpSent so the user can retry.
			return wire.Identity{}, fmt.Errorf("%w: %s", ErrInvalidOTP, srvErr.Message)
		}
		return wire.Identity{}, fmt.Errorf("verifying otp: %w", err)
	}

	id := wire.Identity{Name: name, Phone: phone, Verified: true}

	f.mu.Lock()
	f.state = StateVerified
	f.mu.Unlock()

	logger.InfoCF("verify", "Phone verified", map[string]any{"phone": phone})
	return id, nil
}

// Reset returns the flow to Idle, dropping any outstanding code.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateIdle
	f.attempts = 0
}

func validPhone(phone string) bool {
	if len(phone) < 7 || len(phone) > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
