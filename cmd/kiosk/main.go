// Command kiosk runs an access terminal: it drives the fingerprint sensor,
// streams camera frames to the verifier over MQTT and serves the local
// control API used by the touch UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/accessgate/internal/config"
	"github.com/banshee-data/accessgate/internal/fingerprint"
	"github.com/banshee-data/accessgate/internal/httputil"
	"github.com/banshee-data/accessgate/internal/kiosk"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
	"github.com/banshee-data/accessgate/internal/timeutil"
	"github.com/banshee-data/accessgate/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to kiosk config (.json or .toml)")
	devMode    = flag.Bool("dev", false, "Use the in-memory sensor emulator and message bus")
	listen     = flag.String("listen", "", "Control API listen address (overrides config)")
	logDir     = flag.String("log-file", "", "Directory for rotated log files (overrides config)")
)

const tickInterval = 100 * time.Millisecond

func main() {
	flag.Parse()

	cfg, err := config.LoadKiosk(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if cfg.LogDir != "" {
		closer, err := monitoring.RotateOutput(cfg.LogDir, "kiosk")
		if err != nil {
			log.Fatalf("failed to set up logging: %v", err)
		}
		defer closer.Close()
	}
	log.Printf("kiosk %s device=%s", version.String(), cfg.DeviceID)

	topics := messaging.NewTopics(cfg.TopicPrefix)

	var emu *fingerprint.Emulator
	var sensor *fingerprint.Sensor
	if *devMode {
		emu = fingerprint.NewEmulator(cfg.Sensor.Capacity)
		sensor = fingerprint.NewSensor(emu, fingerprint.WithCapacity(cfg.Sensor.Capacity))
	} else {
		sensor = openSensor(cfg.Sensor)
	}
	defer sensor.Close()

	var bus messaging.Bus
	if *devMode {
		bus = messaging.NewMemoryBus()
	} else {
		clientID := cfg.Broker.ClientID
		if clientID == "" {
			clientID = "kiosk-" + cfg.DeviceID
		}
		bus, err = messaging.DialMQTT(messaging.MQTTOptions{
			Broker:   cfg.Broker.URL,
			ClientID: clientID,
			Username: cfg.Broker.Username,
			Password: cfg.Broker.Password,
			Ordered:  true,
			Topics:   topics,
		})
		if err != nil {
			log.Fatalf("failed to connect to broker: %v", err)
		}
	}
	defer bus.Close()

	opts := kiosk.Options{
		DeviceID:       cfg.DeviceID,
		Topics:         topics,
		StreamFPS:      cfg.Session.StreamFPS,
		ResultDisplay:  cfg.Session.GetResultDisplay(),
		PollInterval:   cfg.Session.GetPollInterval(),
		RemovalSettle:  cfg.Session.GetRemovalSettle(),
		VerifyAttempts: cfg.Session.VerifyAttempts,
		EnrollAttempts: cfg.Session.EnrollAttempts,
	}
	coord := kiosk.New(opts, bus, sensor, timeutil.RealClock{})
	if err := coord.Subscribe(bus); err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx, tickInterval)
		log.Print("coordinator stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := kiosk.NewServer(coord).ServeMux()
		sensor.AttachAdminRoutes(mux)
		coord.AttachAdminRoutes(mux)
		if emu != nil {
			attachEmulatorRoutes(mux, emu)
		}

		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: httputil.LoggingMiddleware(mux, kiosk.QuietPaths...),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("control API listening on %s", cfg.Listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}

// openSensor opens the serial sensor and checks its password. Any failure
// leaves the kiosk running with fingerprint disabled.
func openSensor(c config.Sensor) *fingerprint.Sensor {
	s, err := fingerprint.Open(c.Port, fingerprint.PortOptions{BaudRate: c.BaudRate}, nil,
		fingerprint.WithAddress(c.Address),
		fingerprint.WithPassword(c.Password),
		fingerprint.WithCapacity(c.Capacity),
	)
	if err != nil {
		log.Printf("fingerprint sensor unavailable on %s: %v", c.Port, err)
		return fingerprint.Disabled()
	}
	if err := s.VerifyPassword(); err != nil {
		log.Printf("fingerprint sensor handshake failed: %v", err)
		s.Close()
		return fingerprint.Disabled()
	}
	if n, err := s.TemplateCount(); err == nil {
		log.Printf("fingerprint sensor ready on %s: %d/%d templates", c.Port, n, c.Capacity)
	}
	return s
}

// attachEmulatorRoutes lets a developer put a finger on the emulated glass.
func attachEmulatorRoutes(mux *http.ServeMux, emu *fingerprint.Emulator) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("emulator-finger", "Place (?finger=name) or lift the emulated finger", func(w http.ResponseWriter, r *http.Request) {
		finger := r.URL.Query().Get("finger")
		emu.PlaceFinger(finger)
		if finger == "" {
			fmt.Fprintln(w, "finger lifted")
			return
		}
		fmt.Fprintf(w, "finger %q on glass; slots %v\n", finger, emu.Slots())
	})
}
