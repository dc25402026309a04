package login

import (
	"github.com/spf13/cobra"
)

func NewLoginCommand() *cobra.Command {
	var phone string
	var name string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify your phone number and store the identity",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return loginCmd(phone, name)
		},
	}

	cmd.Flags().StringVarP(&phone, "phone", "p", "", "Phone number to verify")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (first registration only)")

	return cmd
}
