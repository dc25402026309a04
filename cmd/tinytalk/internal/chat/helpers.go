package chat

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal"
	"github.com/tinyland-inc/tinytalk/pkg/client"
	"github.com/tinyland-inc/tinytalk/pkg/logger"
	"github.com/tinyland-inc/tinytalk/pkg/session"
)

func chatCmd(room, group string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.RequireIdentity()
	if err != nil {
		return err
	}

	target := room
	kind := session.KindRoom
	if group != "" {
		target = group
		kind = session.KindGroup
	}
	if target == "" {
		target = cfg.Chat.DefaultRoom
	}

	c := client.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting: %w", err)
	}
	defer c.Close(context.Background())

	if kind == session.KindGroup {
		err = c.JoinGroup(target)
	} else {
		err = c.JoinRoom(target)
	}
	if err != nil {
		return fmt.Errorf("error joining %q: %w", target, err)
	}

	p := tea.NewProgram(newModel(c, cfg, target, kind), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat screen error: %w", err)
	}
	return nil
}
