package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/accessgate/internal/db"
)

const defaultDevice = "rpi_device_01"

var (
	device     string
	addAccess  string
	addRole    string
	addNoEnrol bool
)

// newAdmin connects to the broker and wires an admin for one command.
func newAdmin(cmd *cobra.Command) (*admin, func(), error) {
	bus, err := dialBus("cli")
	if err != nil {
		return nil, nil, err
	}
	a := &admin{
		db:      store,
		pub:     bus,
		topics:  topics(),
		device:  device,
		dataset: newDataset(),
		out:     cmd.OutOrStdout(),
		retrain: func(ctx context.Context) error {
			_, err := retrain(ctx, false)
			if err != nil {
				return fmt.Errorf("retrain (run `verifier retrain` once the face engine is available): %w", err)
			}
			return nil
		},
	}
	return a, func() { bus.Close() }, nil
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Administer users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <cedula> <nombres>",
	Short: "Create a user and start enrollment on the kiosk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		access, err := db.ParseAccessType(addAccess)
		if err != nil {
			return err
		}
		a := &admin{db: store, out: cmd.OutOrStdout()}
		if !addNoEnrol {
			var done func()
			if a, done, err = newAdmin(cmd); err != nil {
				return err
			}
			defer done()
		}
		return a.addUser(cmd.Context(), db.User{
			Cedula:  args[0],
			Nombres: args[1],
			Role:    addRole,
			Access:  access,
		}, !addNoEnrol)
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := &admin{db: store, out: cmd.OutOrStdout()}
		return a.listUsers()
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <cedula>",
	Short: "Delete a user, their fingerprint template and photos",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newAdmin(cmd)
		if err != nil {
			return err
		}
		defer done()
		return a.deleteUser(cmd.Context(), args[0])
	},
}

var userSetAccessCmd = &cobra.Command{
	Use:   "set-access <cedula> <facial|fingerprint|both|none>",
	Short: "Change which methods a user may pass with",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		access, err := db.ParseAccessType(args[1])
		if err != nil {
			return err
		}
		a, done, err := newAdmin(cmd)
		if err != nil {
			return err
		}
		defer done()
		return a.setAccess(cmd.Context(), args[0], access)
	},
}

func init() {
	userCmd.PersistentFlags().StringVar(&device, "device", defaultDevice, "Kiosk that receives enrollment and sensor commands")
	userAddCmd.Flags().StringVar(&addAccess, "access", "both", "Access methods: facial, fingerprint, both or none")
	userAddCmd.Flags().StringVar(&addRole, "role", "user", "User role")
	userAddCmd.Flags().BoolVar(&addNoEnrol, "no-enroll", false, "Only create the record; do not start enrollment")

	userCmd.AddCommand(userAddCmd, userListCmd, userDeleteCmd, userSetAccessCmd)
	rootCmd.AddCommand(userCmd)
}
