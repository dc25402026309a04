package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal"
	"github.com/tinyland-inc/tinytalk/pkg/api"
	"github.com/tinyland-inc/tinytalk/pkg/config"
	"github.com/tinyland-inc/tinytalk/pkg/verify"
)

const otpAttempts = 3

func loginCmd(phone, name string) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	if phone == "" {
		phone = prompt(reader, "Phone number: ")
	}
	if name == "" && cfg.Identity.Name == "" {
		name = prompt(reader, "Display name: ")
	}

	apiClient := api.NewClient(cfg.Server.BaseURL, api.WithTimeout(cfg.Timeout()))
	flow := verify.NewFlow(apiClient,
		time.Duration(cfg.OTP.CooldownSeconds)*time.Second, cfg.OTP.MaxAttempts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := flow.RequestOTP(ctx, name, phone); err != nil {
		if errors.Is(err, verify.ErrInvalidPhone) {
			return fmt.Errorf("invalid phone number %q: digits only, 7 to 15 characters", phone)
		}
		return fmt.Errorf("error requesting OTP: %w", err)
	}
	fmt.Printf("✓ OTP sent to %s\n", phone)

	for attempt := 1; attempt <= otpAttempts; attempt++ {
		otp := prompt(reader, "Enter OTP: ")
		identity, err := flow.SubmitOTP(ctx, otp)
		if err == nil {
			cfg.SetIdentity(identity)
			if err := config.SaveConfig(internal.GetConfigPath(), cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Printf("✓ Verified as %s (%s)\n", identity.Name, identity.Phone)
			fmt.Println("Run 'tinytalk chat' to start chatting")
			return nil
		}
		if errors.Is(err, verify.ErrExpired) {
			return fmt.Errorf("OTP expired; run 'tinytalk login' again")
		}
		fmt.Printf("✗ Invalid OTP (%d/%d)\n", attempt, otpAttempts)
	}

	return fmt.Errorf("too many invalid codes")
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
