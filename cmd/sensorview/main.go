package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/sensorview/internal/api"
	"github.com/banshee-data/sensorview/internal/config"
	"github.com/banshee-data/sensorview/internal/db"
	"github.com/banshee-data/sensorview/internal/display"
	"github.com/banshee-data/sensorview/internal/handshake"
	"github.com/banshee-data/sensorview/internal/message"
	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/pipeline"
	"github.com/banshee-data/sensorview/internal/serialport"
	"github.com/banshee-data/sensorview/internal/timeutil"
	"github.com/banshee-data/sensorview/internal/version"
	"github.com/banshee-data/sensorview/internal/window"
)

var (
	configPath  = flag.String("config", "", "Path to JSON configuration file")
	port        = flag.String("port", "", "Serial port to connect to at startup (overrides config)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config, default :8080)")
	dbPath      = flag.String("db", "", "Path to sqlite database (overrides config, default sensor_data.db)")
	devMode     = flag.Bool("dev", false, "Use the simulated sensor on "+serialport.SimulatorName+" instead of hardware")
	autodetect  = flag.Bool("autodetect", false, "Probe every serial port and connect to the first responding sensor")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *port != "" {
		cfg.Port = port
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// connectAtStartup performs the startup connection, if one is configured.
func connectAtStartup(ctx context.Context, ctl *handshake.Controller, name string) {
	switch {
	case *autodetect:
		found, err := ctl.AutoDetect(ctx)
		if err != nil {
			log.Printf("auto-detect failed: %v", err)
			return
		}
		log.Printf("auto-detect connected to %s", found)
	case name != "":
		if err := ctl.Open(ctx, name); err != nil {
			log.Printf("failed to connect to %s: %v", name, err)
			return
		}
		log.Printf("connected to %s", name)
	default:
		log.Printf("no port configured; use POST /api/connect to connect")
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	monitoring.SetLogger(log.Printf)

	reg := monitoring.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	events := database.NewEventLog(db.DefaultEventBuffer)
	events.Metrics = metrics
	recorder := monitoring.MultiRecorder(monitoring.LogRecorder{}, events)

	var transport serialport.Transport = serialport.System{}
	startupPort := cfg.GetPort()
	if *devMode {
		transport = &serialport.Simulator{Temperature: 22.5, SpikeEvery: 40}
		if startupPort == "" {
			startupPort = serialport.SimulatorName
		}
	}

	clock := timeutil.RealClock{}
	classifier := message.NewClassifier(clock)
	classifier.Metrics = metrics

	ctl := handshake.NewController(handshake.Config{
		Transport:  transport,
		Options:    serialport.DefaultOptions(),
		Classifier: classifier,
		Recorder:   recorder,
		Clock:      clock,
		Metrics:    metrics,
		Retries:    cfg.GetHandshakeRetries(),
		AckWait:    cfg.GetAckWait(),
	})

	snapshot := display.NewSnapshot()
	win := window.New(cfg.WindowConfig(), ctl.Queue(), snapshot)
	win.Metrics = metrics
	win.Recorder = recorder

	drainer := &pipeline.Drainer{
		Queue:    ctl.Queue(),
		Window:   win,
		Sink:     database,
		Interval: cfg.GetDrainInterval(),
		Clock:    clock,
		Metrics:  metrics,
		Ready:    ctl.Connected,
	}
	ctl.OnClose(drainer.Flush)
	refresher := &pipeline.Display{Window: win, Rate: cfg.GetRefreshRateHz()}

	// The event journal outlives the other routines so the disconnect
	// events recorded during shutdown are still written.
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		if err := events.Run(eventsCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("event journal stopped: %v", err)
		}
	}()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// drain accepted samples from the queue into the window
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := drainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("drain routine failed: %v", err)
		}
		log.Print("drain routine terminated")
	}()

	// refresh the display at the configured cadence
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("display routine failed: %v", err)
		}
		log.Print("display routine terminated")
	}()

	// connect at startup, then disconnect cleanly on shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		connectAtStartup(ctx, ctl, startupPort)
		<-ctx.Done()
		if err := ctl.Close(); err != nil {
			log.Printf("failed to close sensor connection: %v", err)
		}
		log.Print("connection routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only from localhost or over Tailscale)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		ctl.AttachAdminRoutes(mux)

		apiServer := api.NewServer(ctl, win, database)
		apiServer.Snapshot = snapshot
		apiServer.Metrics = monitoring.Handler(reg)
		mux.Handle("/", apiServer.ServeMux())

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	stopEvents()
	<-eventsDone
	if n := events.Dropped(); n > 0 {
		fmt.Fprintf(os.Stderr, "event journal dropped %d events\n", n)
	}
	log.Printf("Graceful shutdown complete")
}
