package chat

import (
	"github.com/spf13/cobra"
)

func NewChatCommand() *cobra.Command {
	var room string
	var group string
	var debug bool

	cmd := &cobra.Command{
		Use:     "chat",
		Aliases: []string{"c"},
		Short:   "Open the chat screen",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return chatCmd(room, group, debug)
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "Room to join (defaults to the configured room)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group to join instead of a room")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
