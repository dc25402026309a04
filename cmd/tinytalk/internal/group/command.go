package group

import (
	"github.com/spf13/cobra"
)

func NewGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "group",
		Aliases: []string{"g"},
		Short:   "Manage chat groups",
	}

	cmd.AddCommand(
		newCreateCommand(),
		newAddCommand(),
		newLeaveCommand(),
		newDeleteCommand(),
		newInvitesCommand(),
		newMembersCommand(),
		newMineCommand(),
	)

	return cmd
}

func newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group with yourself as admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return createCmd(args[0])
		},
	}
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <phone>",
		Short: "Add a member to a group (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return addCmd(args[0], args[1])
		},
	}
}

func newLeaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <name>",
		Short: "Leave a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return leaveCmd(args[0])
		},
	}
}

func newDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a group (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return deleteCmd(args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func newInvitesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invites <room>",
		Short: "List phones invited to a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return invitesCmd(args[0])
		},
	}
}

func newMembersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "members <name>",
		Short: "List group members",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return membersCmd(args[0])
		},
	}
}

func newMineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List the groups you belong to",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return mineCmd()
		},
	}
}
