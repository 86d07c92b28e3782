// cmd/doorcommander/main.go
//
// door-commander – HTTP entry point.
//
// Start-up sequence
// -----------------
//
//  1. Parse flags and open a console bootstrap logger.
//
//  2. Connect to Vault when VAULT_ADDR is set; the signing secret may
//     live there.
//
//  3. Load settings (YAML → .env → environment).  With --check the
//     redacted settings are printed and the process exits.
//
//  4. Start the daily rotating logger (tees to console when running in a
//     TTY) and publish feature gauges.
//
//  5. Open the database selected by the settings.
//
//  6. Connect to the MQTT broker.  A broker that is down does not stop
//     start-up; the client keeps retrying.
//
//  7. Run the HTTP server, the periodic task scheduler, and the debug-flag
//     watcher until SIGINT/SIGTERM.
//
// Any failure before step 7 exits with status 1.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zamhaus/doorcommander/internal/config"
	"github.com/zamhaus/doorcommander/internal/database"
	"github.com/zamhaus/doorcommander/internal/doors"
	"github.com/zamhaus/doorcommander/internal/form"
	"github.com/zamhaus/doorcommander/internal/logger"
	"github.com/zamhaus/doorcommander/internal/metrics"
	"github.com/zamhaus/doorcommander/internal/mqtt"
	"github.com/zamhaus/doorcommander/internal/server"
	"github.com/zamhaus/doorcommander/internal/session"
	"github.com/zamhaus/doorcommander/internal/tasks"
	"github.com/zamhaus/doorcommander/internal/vault"
)

const brokerConnectTimeout = 5 * time.Second

var signalNotify = signal.Notify

// resolver looks up PROXY_HOSTNAME; tests swap it.
var resolver config.Resolver = net.DefaultResolver

type flags struct {
	root   string
	listen string
	check  bool
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	app := kingpin.New("door-commander", "Door access web application and controller publisher")
	var f flags
	app.Flag("root", "Project root (overrides DOOR_COMMANDER_ROOT)").StringVar(&f.root)
	app.Flag("listen", "HTTP listen address (overrides LISTEN_ADDR)").StringVar(&f.listen)
	app.Flag("check", "Load and validate settings, print them, and exit").BoolVar(&f.check)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	boot := logger.Bootstrap()
	ctx, cancel := signalContext(context.Background(), boot)
	defer cancel()

	if err := run(ctx, f, os.Stdout, boot); err != nil {
		boot.Error("door-commander stopped", zap.Error(err))
		_ = boot.Sync()
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			log.Info("shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func run(ctx context.Context, f flags, stdout io.Writer, boot *zap.Logger) error {
	//
	// ── 1.  Vault and settings ──────────────────────────────────────────
	//
	opts := config.Options{Root: f.root, ListenAddr: f.listen, Logger: boot, Resolver: resolver}
	vc, err := vault.NewFromEnv(ctx, boot)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if vc != nil {
		opts.Vault = vc
	}

	settings, err := config.Load(ctx, opts)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if f.check {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	}

	//
	// ── 2.  Logger and metrics ──────────────────────────────────────────
	//
	log, err := logger.New(settings.Paths.Root, runningInTTY(), settings.Logging.Level, settings.Logging.Override)
	if err != nil {
		return fmt.Errorf("start logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	metrics.RecordFeatures(settings)
	for _, fs := range settings.Features() {
		log.Info("feature", zap.String("name", fs.Name), zap.Bool("enabled", fs.Enabled), zap.String("reason", fs.Reason))
	}

	//
	// ── 3.  Database ────────────────────────────────────────────────────
	//
	db, err := database.Open(ctx, settings.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Info("database online", zap.Stringer("backend", settings.Database))

	sessions, err := session.New(settings.SecretKey, settings.HTTP.SessionCookieSecure)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	csrf, err := form.New(settings.SecretKey, settings.HTTP.CSRFCookieSecure, log)
	if err != nil {
		return fmt.Errorf("csrf: %w", err)
	}

	//
	// ── 4.  MQTT broker ─────────────────────────────────────────────────
	//
	broker := mqtt.New(settings.MQTT, log)
	cctx, ccancel := context.WithTimeout(ctx, brokerConnectTimeout)
	if err := broker.Connect(cctx); err != nil {
		log.Warn("broker not reachable yet, retrying in background", zap.Error(err))
	}
	ccancel()
	defer broker.Close()

	//
	// ── 5.  Serve until signalled ───────────────────────────────────────
	//
	sched := tasks.NewScheduler(log)
	sched.Register(doors.Task, doors.PublishNames(db, broker, log))

	srv := server.New(settings.HTTP.ListenAddr, server.NewRouter(server.Deps{
		Settings: settings,
		DB:       db,
		Sessions: sessions,
		CSRF:     csrf,
		Log:      log,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, srv, server.ShutdownGrace, log) })
	g.Go(func() error { return sched.Run(gctx, settings.Tasks.Schedule) })
	g.Go(func() error {
		if err := config.WatchDebugFlag(gctx, settings, log, nil); err != nil {
			log.Warn("debug flag watcher unavailable", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
