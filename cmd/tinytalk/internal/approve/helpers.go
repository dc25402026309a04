package approve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal"
	"github.com/tinyland-inc/tinytalk/pkg/client"
)

func approveCmd(room string) error {
	cfg, err := internal.RequireIdentity()
	if err != nil {
		return err
	}
	if room == "" {
		room = cfg.Chat.DefaultRoom
	}

	c := client.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting: %w", err)
	}
	defer c.Close(context.Background())

	if err := c.JoinRoom(room); err != nil {
		return fmt.Errorf("error joining %q: %w", room, err)
	}

	fmt.Printf("✓ Moderating %q as %s\n", room, cfg.Identity.Name)
	fmt.Println("Commands: list, approve <phone>, invite <phone>, help, exit")

	// Announce pending changes while the admin is at the prompt.
	go func() {
		for u := range c.Updates() {
			if u.Kind == client.UpdateRooms && u.Room == room {
				if pending := c.Pending(room); len(pending) > 0 {
					fmt.Printf("\n! %d pending request(s), 'list' to see them\n", len(pending))
				}
			}
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s %s> ", internal.Logo, room),
		HistoryFile:     filepath.Join(os.TempDir(), ".tinytalk_approve_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("error initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return nil

		case "help":
			fmt.Println("  list             show pending join requests")
			fmt.Println("  approve <phone>  approve a pending request")
			fmt.Println("  invite <phone>   invite a contact to the room")
			fmt.Println("  exit             leave the console")

		case "list":
			pending := c.Pending(room)
			if len(pending) == 0 {
				fmt.Println("No pending requests")
				continue
			}
			for _, phone := range pending {
				fmt.Printf("  • %s\n", phone)
			}

		case "approve":
			if len(fields) != 2 {
				fmt.Println("Usage: approve <phone>")
				continue
			}
			if err := c.Approve(room, fields[1]); err != nil {
				fmt.Printf("✗ Approve failed: %v\n", err)
				continue
			}
			fmt.Printf("✓ Approved %s\n", fields[1])

		case "invite":
			if len(fields) != 2 {
				fmt.Println("Usage: invite <phone>")
				continue
			}
			callCtx, callCancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, err := c.API().InviteContact(callCtx, fields[1], room, cfg.Identity.Phone)
			callCancel()
			if err != nil {
				fmt.Printf("✗ Invite failed: %v\n", err)
				continue
			}
			fmt.Printf("✓ Invited %s to %q\n", fields[1], room)

		default:
			fmt.Printf("Unknown command %q, try 'help'\n", fields[0])
		}
	}
}
