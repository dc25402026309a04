package approve

import (
	"github.com/spf13/cobra"
)

func NewApproveCommand() *cobra.Command {
	var room string

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Moderate join requests for a room you admin",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return approveCmd(room)
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "Room to moderate (defaults to the configured room)")

	return cmd
}
