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

	"github.com/banshee-data/collar.amc/internal/amc"
	"github.com/banshee-data/collar.amc/internal/config"
	"github.com/banshee-data/collar.amc/internal/db"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fsutil"
	"github.com/banshee-data/collar.amc/internal/monitoring"
	"github.com/banshee-data/collar.amc/internal/serialmux"
	"github.com/banshee-data/collar.amc/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Replay bridge lines from --fixtures instead of opening the serial port")
	disableSerial = flag.Bool("disable-serial", false, "Run without a bridge feed")
	listen        = flag.String("listen", ":8080", "Listen address for metrics and debug pages")
	port          = flag.String("port", "/dev/ttyAMA0", "Serial port of the sensor bridge (ignored in dev mode)")
	baudRate      = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	fixtures      = flag.String("fixtures", "fixtures.jsonl", "Bridge lines replayed in dev mode")
	replayEvery   = flag.Duration("fixtures-interval", time.Second, "Delay between replayed bridge lines")
	record        = flag.String("record", "", "Record every bridge line to this capture file")
	dbPath        = flag.String("db-path", "collar.db", "Path to the sqlite database")
	configFile    = flag.String("config", "", "Path to a JSON tuning file (defaults are used when empty)")
	keepPastures  = flag.Int("keep-pastures", 5, "Stored pasture versions kept at boot (0 keeps all)")
	logLevel      = flag.String("log-level", "ops", "Engine log streams to enable: none, ops, diag or trace")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("collar %s\n", version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	monitoring.SetLogger(log.Printf)
	if err := setLogLevel(*logLevel, os.Stderr); err != nil {
		log.Fatalf("invalid --log-level: %v", err)
	}

	tuning, err := loadTuning(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *keepPastures > 0 {
		if n, err := store.PrunePastures(ctx, *keepPastures); err != nil {
			log.Printf("failed to prune pastures: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d old pasture versions", n)
		}
	}

	collector, err := monitoring.NewCollector(nil)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	bus := events.NewBus()
	defer bus.Close()

	bridge, err := openBridge()
	if err != nil {
		log.Fatalf("failed to open sensor bridge: %v", err)
	}
	defer bridge.Close()

	if err := bridge.Initialize(); err != nil {
		log.Fatalf("failed to initialize sensor bridge: %v", err)
	}
	log.Printf("collar %s: initialized sensor bridge %s", version.String(), describeBridge())

	// Hardware commands bypass the bus so none is dropped.
	commands := serialmux.NewCommandWriter(bridge)

	monitor := amc.NewMonitor(amc.MonitorConfig{
		Config:   amc.ConfigFromTuning(tuning),
		Sink:     events.Tee(commands, bus, collector),
		Pastures: store,
		Settings: store,
		Counters: store,
		Observer: collector,
	})
	counters, err := store.LoadCounters(ctx)
	if err != nil {
		log.Fatalf("failed to load counters: %v", err)
	}
	monitor.RestoreCounters(counters)

	var wg sync.WaitGroup

	// The monitor owns every classifier; nothing else touches them.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("monitor stopped: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("serial routine terminated")
	}()

	feed := &serialmux.Handler{Target: monitor, Pastures: store}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx, bridge); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("bridge feed stopped: %v", err)
		}
		log.Print("feed routine terminated")
	}()

	if *record != "" {
		recID, recLines := bridge.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer bridge.Unsubscribe(recID)
			if err := fsutil.RecordLines(ctx, fsutil.OSFileSystem{}, *record, recLines); err != nil {
				log.Printf("capture recording stopped: %v", err)
			}
			log.Print("capture routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		commands.Run(ctx)
		log.Print("command routine terminated")
	}()

	logID, corrections := bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer bus.Unsubscribe(logID)
		store.LogCorrections(ctx, corrections, nil)
		log.Print("correction log routine terminated")
	}()

	if err := bootFence(ctx, store, monitor); err != nil {
		log.Printf("no fence installed at boot: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		attachMonitorRoutes(mux, monitor, bus, feed)
		bridge.AttachAdminRoutes(mux)
		store.AttachAdminRoutes(mux)

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/metrics" {
				log.Printf("got request %q", r.URL.Path)
			}
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:              *listen,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// openBridge returns the sensor bridge selected by the flags.
func openBridge() (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableSerial:
		return serialmux.NewDisabledSerialMux(), nil
	case *devMode:
		lines, err := readFixtureLines(fsutil.OSFileSystem{}, *fixtures)
		if err != nil {
			return nil, err
		}
		return serialmux.NewMockSerialMux(lines, *replayEvery), nil
	default:
		if *port == "" {
			return nil, errors.New("serial port is required")
		}
		return serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baudRate})
	}
}

func describeBridge() string {
	switch {
	case *disableSerial:
		return "(disabled)"
	case *devMode:
		return fmt.Sprintf("(replaying %s)", *fixtures)
	default:
		return fmt.Sprintf("%s (%s)", *port, serialmux.PortOptions{BaudRate: *baudRate})
	}
}

// loadTuning reads the tuning file at path, or returns the built-in
// defaults when path is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// readFixtureLines returns the lines of a bridge capture.
func readFixtureLines(fsys fsutil.FileSystem, path string) ([]string, error) {
	lines, err := fsutil.ReadLines(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("fixtures file %s has no lines", path)
	}
	return lines, nil
}

// PastureIndex reports the newest stored pasture.
type PastureIndex interface {
	LatestPastureVersion(ctx context.Context) (uint32, bool, error)
}

// FencePoster receives the version to install.
type FencePoster interface {
	PostNewFence(version uint32)
}

// bootFence queues installation of the newest stored pasture.
func bootFence(ctx context.Context, idx PastureIndex, m FencePoster) error {
	v, ok, err := idx.LatestPastureVersion(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no stored pasture")
	}
	log.Printf("installing stored pasture version %d", v)
	m.PostNewFence(v)
	return nil
}
