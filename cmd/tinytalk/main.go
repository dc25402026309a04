package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal"
	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal/approve"
	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal/chat"
	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal/group"
	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal/login"
	"github.com/tinyland-inc/tinytalk/cmd/tinytalk/internal/version"
)

func NewTinytalkCommand() *cobra.Command {
	short := fmt.Sprintf("%s tinytalk - Phone-verified family chat v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "tinytalk",
		Short:   short,
		Example: "tinytalk chat",
	}

	cmd.AddCommand(
		login.NewLoginCommand(),
		chat.NewChatCommand(),
		approve.NewApproveCommand(),
		group.NewGroupCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	// Optional .env for local development; real config comes from the JSON
	// file plus TINYTALK_* variables.
	_ = godotenv.Load()

	cmd := NewTinytalkCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
