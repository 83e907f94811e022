// Command verifier is the access backend: it serves verification and
// enrollment requests from kiosks over MQTT and administers users.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/accessgate/internal/config"
	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/version"
)

var (
	configPath string
	dbPath     string

	cfg   *config.Verifier
	store *db.DB
)

var rootCmd = &cobra.Command{
	Use:          "verifier",
	Short:        "Biometric access verification backend",
	Version:      version.String(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadVerifier(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			c.DBPath = dbPath
		}
		cfg = c

		// migrate manages the schema itself; everything else expects it current.
		if cmd.HasParent() && cmd.Parent().Name() == "migrate" {
			store, err = db.OpenDB(cfg.DBPath)
		} else {
			store, err = db.NewDB(cfg.DBPath)
		}
		if err != nil {
			return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to verifier config (.json or .toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
