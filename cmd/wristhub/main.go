// Wristhub companion server — serves the watch delta feed, pairing, camera
// streams, and push-token registration against a home-automation hub.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nylondiamond/wristhub/pkg/api"
	"github.com/nylondiamond/wristhub/pkg/auth"
	"github.com/nylondiamond/wristhub/pkg/camera"
	"github.com/nylondiamond/wristhub/pkg/config"
	"github.com/nylondiamond/wristhub/pkg/delta"
	"github.com/nylondiamond/wristhub/pkg/habridge"
	"github.com/nylondiamond/wristhub/pkg/metrics"
	"github.com/nylondiamond/wristhub/pkg/pairing"
	"github.com/nylondiamond/wristhub/pkg/push"
	"github.com/nylondiamond/wristhub/pkg/summary"
	"github.com/nylondiamond/wristhub/pkg/version"
)

const pairingPruneInterval = time.Minute

func main() {
	envPath := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting wristhub",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"hub_url", cfg.HubURL,
		"storage_dir", cfg.StorageDir)

	ctx := context.Background()
	m := metrics.New()

	// 1. Hub bridge: websocket event feed + state cache + camera proxy.
	bridge := habridge.New(cfg.HubURL, cfg.HubToken)
	if err := bridge.Start(ctx); err != nil {
		slog.Error("Failed to connect to hub", "error", err)
		os.Exit(1)
	}
	defer bridge.Stop()

	// 2. Persistent stores.
	authService := auth.NewService(cfg.AuthStorePath(), cfg.APIToken, cfg.OwnerName)
	if err := authService.Load(); err != nil {
		slog.Error("Failed to load auth store", "error", err)
		os.Exit(1)
	}

	tokenStore := push.NewFileTokenStore(cfg.PushTokenPath())
	if err := tokenStore.Load(ctx); err != nil {
		slog.Error("Failed to load push token store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tokenStore.Flush(); err != nil {
			slog.Error("Error flushing push token store", "error", err)
		}
	}()

	// 3. Delta feed.
	coordinator := delta.NewCoordinator(bridge, bridge, cfg.RingSize, m)
	defer coordinator.Shutdown()
	m.RegisterGaugeFunc("wristhub_watch_sessions",
		"Live watch sessions in the delta feed.",
		func() float64 { return float64(coordinator.SessionCount()) })
	m.RegisterGaugeFunc("wristhub_events_per_minute",
		"Trailing-minute state change ingest rate.",
		coordinator.EventsPerMinute)

	projector := summary.NewProjector(bridge)

	// 4. Pairing: startup orphan cleanup, then the prune loop.
	pairingService := pairing.NewService(authService)
	if err := pairingService.OrphanCleanup(ctx); err != nil {
		slog.Warn("Pairing orphan cleanup failed", "error", err)
		// Non-fatal — continue
	}
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go func() {
		ticker := time.NewTicker(pairingPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				pairingService.PruneExpired(pruneCtx)
			}
		}
	}()

	// 5. Camera pipeline.
	frameWorkers := cfg.FrameWorkers
	if frameWorkers <= 0 {
		frameWorkers = runtime.GOMAXPROCS(0)
	}
	registry := camera.NewRegistry()
	pool := camera.NewPool(frameWorkers, m)
	streamer := camera.NewStreamer(bridge, registry, pool)
	defer registry.Shutdown()
	m.RegisterGaugeFunc("wristhub_camera_streams",
		"Active MJPEG camera streams.",
		func() float64 { return float64(registry.Len()) })

	// 6. Push forwarding (optional).
	var notifier *push.Notifier
	if cfg.PushGatewayURL != "" {
		notifier = push.NewNotifier(tokenStore, push.NewHTTPGateway(cfg.PushGatewayURL), m)
		slog.Info("Push gateway configured", "url", cfg.PushGatewayURL)
	} else {
		slog.Info("No push gateway configured, send endpoint disabled")
	}

	// 7. HTTP server.
	server := api.NewServer(
		coordinator, projector,
		pairingService, api.PairingURLs{
			Base:   cfg.BaseURL,
			Local:  cfg.LocalURL,
			Remote: cfg.RemoteURL,
		},
		authService.Owner(),
		streamer, bridge, tokenStore, notifier,
		authService, m,
	)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Handler(),
		// No WriteTimeout: long-polls hold up to 55s and MJPEG streams are
		// unbounded.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Wristhub started successfully", "frame_workers", frameWorkers)

	// 8. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown. Stop accepting first so in-flight polls drain,
	// then revoke outstanding pairing codes before their tokens leak.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	pairingShutdownCtx, pairingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pairingCancel()
	pairingService.Shutdown(pairingShutdownCtx)

	slog.Info("Shutdown complete")
}
