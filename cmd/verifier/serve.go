package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/httputil"
	"github.com/banshee-data/accessgate/internal/monitoring"
	"github.com/banshee-data/accessgate/internal/timeutil"
	"github.com/banshee-data/accessgate/internal/verifier"
	"github.com/banshee-data/accessgate/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve verification and enrollment requests from kiosks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if cfg.LogDir != "" {
		closer, err := monitoring.RotateOutput(cfg.LogDir, "verifier")
		if err != nil {
			return err
		}
		defer closer.Close()
	}
	log.Printf("verifier %s db=%s", version.String(), cfg.DBPath)

	deps := verifier.Deps{
		DB:      store,
		Dataset: newDataset(),
		Clock:   timeutil.RealClock{},
	}

	gallery := newGallery()
	if err := gallery.Load(); err != nil {
		log.Printf("face gallery unreadable, facial matching disabled: %v", err)
	} else {
		deps.Gallery = gallery
		log.Printf("face gallery: %d encodings", gallery.Len())
	}

	engine, err := newEngine(ctx)
	if err != nil {
		log.Printf("face engine unavailable, facial verification disabled: %v", err)
	} else {
		defer engine.Close()
		deps.Engine = engine
	}

	orch := verifier.New(verifier.Options{
		BlinksRequired:    cfg.Liveness.BlinksRequired,
		Timeout:           cfg.Liveness.GetTimeout(),
		EARThreshold:      cfg.Liveness.EARThreshold,
		ConsecutiveFrames: cfg.Liveness.ConsecutiveFrames,
		Tolerance:         cfg.Matching.Tolerance,
	}, deps)
	defer orch.Close()

	bus, err := dialBus("serve")
	if err != nil {
		return err
	}
	defer bus.Close()

	svc := verifier.NewService(orch, bus, topics(), cfg.Liveness.GetSweepInterval())
	if err := svc.Start(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx)
		log.Print("liveness sweeper stopped")
	}()

	if deps.Gallery != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reloadOnHangup(ctx, deps.Gallery)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}
		orch.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: httputil.LoggingMiddleware(mux),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("admin server: %v", err)
			}
		}()
		log.Printf("admin pages on http://%s/debug/", cfg.Listen)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			server.Close()
		}
	}()

	wg.Wait()
	orch.Wait()
	log.Printf("graceful shutdown complete")
	return nil
}

// reloadOnHangup re-reads the gallery snapshot whenever the process gets
// SIGHUP, which is how an offline retrain reaches a running server.
func reloadOnHangup(ctx context.Context, g *faceengine.Gallery) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := g.Load(); err != nil {
				log.Printf("gallery reload failed: %v", err)
				continue
			}
			log.Printf("gallery reloaded: %d encodings", g.Len())
		}
	}
}
