package main

import (
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the schema and reset every fingerprint binding",
	Long: "Applies migrations, tells the kiosk to empty its sensor library and " +
		"clears fingerprint ids in the database so both start from scratch.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newAdmin(cmd)
		if err != nil {
			return err
		}
		defer done()
		return a.initDB(cmd.Context())
	},
}

func init() {
	initDBCmd.Flags().StringVar(&device, "device", defaultDevice, "Kiosk whose sensor is emptied")
	rootCmd.AddCommand(initDBCmd)
}
