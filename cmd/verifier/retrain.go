package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Rebuild the face gallery from the enrollment photos",
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := retrain(cmd.Context(), true)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d encodings for %d of %d users\n", rep.Encoded, len(rep.Enrolled), rep.Users)
		for _, p := range rep.NoFace {
			fmt.Fprintf(out, "  no face: %s\n", p)
		}
		for _, p := range rep.Failed {
			fmt.Fprintf(out, "  failed:  %s\n", p)
		}
		fmt.Fprintln(out, "send SIGHUP to a running verifier to load the new gallery")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retrainCmd)
}
