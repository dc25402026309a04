package group

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
)

func newAPIClient() (*api.Client, *config.Config, error) {
	cfg, err := internal.RequireIdentity()
	if err != nil {
		return nil, nil, err
	}
	return api.NewClient(cfg.Server.BaseURL, api.WithTimeout(cfg.Timeout())), cfg, nil
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func createCmd(name string) error {
	client, cfg, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := callCtx()
	defer cancel()

	if _, err := client.CreateGroup(ctx, name, cfg.Identity.Phone, cfg.Identity.Name); err != nil {
		return fmt.Errorf("error creating group: %w", err)
	}
	fmt.Printf("✓ Group %q created, you are the admin\n", name)
	return nil
}

func addCmd(name, phone string) error {
	client, cfg, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := callCtx()
	defer cancel()

	if _, err := client.AddGroupMember(ctx, name, phone, cfg.Identity.Phone); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("only the group admin can add members")
		}
		return fmt.Errorf("error adding member: %w", err)
	}
	fmt.Printf("✓ Added %s to %q\n", phone, name)
	return nil
}

func leaveCmd(name string) error {
	client, cfg, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := callCtx()
	defer cancel()

	if _, err := client.LeaveGroup(ctx, name, cfg.Identity.Phone); err != nil {
		return fmt.Errorf("error leaving group: %w", err)
	}
	fmt.Printf("✓ Left %q\n", name)
	return nil
}

func deleteCmd(name string, yes bool) error {
	client, cfg, err := newAPIClient()
	if err != nil {
		return err
	}

	if !yes {
		fmt.Printf("Delete group %q and its history? [y/N] ", name)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	ctx, cancel := callCtx()
	defer cancel()

	if _, err := client.DeleteGroup(ctx, name, cfg.Identity.Phone); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("only the group admin can delete the group")
		}
		return fmt.Errorf("error deleting group: %w", err)
	}
	fmt.Printf("✓ Group %q deleted\n", name)
	return nil
}

func invitesCmd(room string) error {
	client, _, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := callCtx()
	defer cancel()

	invited, err := client.RoomInvites(ctx, room)
	if err != nil {
		return fmt.Errorf("error listing invites: %w", err)
	}
	if len(invited) == 0 {
		fmt.Printf("No invites for %q\n", room)
		return nil
	}
	fmt.Printf("Invited to %q:\n", room)
	for _, phone := range invited {
		fmt.Printf("  • %s\n", phone)
	}
	return nil
}

func membersCmd(name string) error {
	client, _, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := callCtx()
	defer cancel()

	info, err := client.GroupInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("error fetching group: %w", err)
	}
	fmt.Printf("Group %q (admin %s):\n", info.Name, info.Admin)
	for _, m := range info.Members {
		marker := ""
		if m.Phone == info.Admin {
			marker = " (admin)"
		}
		fmt.Printf("  • %s %s%s\n", m.Name, m.Phone, marker)
	}
	return nil
}

func mineCmd() error {
	client, cfg, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := callCtx()
	defer cancel()

	groups, err := client.MyGroups(ctx, cfg.Identity.Phone)
	if err != nil {
		return fmt.Errorf("error listing groups: %w", err)
	}
	if len(groups) == 0 {
		fmt.Println("You are not in any group yet")
		return nil
	}
	for _, g := range groups {
		fmt.Printf("  • %s (%d members)\n", g.Name, len(g.Members))
	}
	return nil
}
