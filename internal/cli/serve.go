package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/api"
	"github.com/xxllxllxlllx/live-graph-system/internal/clock/system"
	"github.com/xxllxllxlllx/live-graph-system/internal/engine"
	"github.com/xxllxllxlllx/live-graph-system/internal/hash/sha256"
	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
	"github.com/xxllxllxlllx/live-graph-system/internal/publish"
	"github.com/xxllxllxlllx/live-graph-system/internal/tor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control-plane server",
		Long: `Starts the HTTP control plane, the engine supervisor, and the mirror
watcher, then blocks until SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasher := sha256.New()
	publisher := publish.New(cfg.Publisher.PrimaryPath, cfg.Publisher.MirrorPath, hasher, logger)

	torClient, err := tor.NewClient(cfg.Tor.SocksHost, cfg.Tor.SocksPort, cfg.RequestTimeout())
	if err != nil {
		logger.Warn("tor endpoint unavailable; onion engines disabled", zap.Error(err))
		torClient = nil
	}

	supervisor := engine.New(cfg, publisher, torClient, system.New(), logger)

	watcher := publish.NewWatcher(publisher, cfg.PollInterval(), logger)
	go watcher.Run(ctx)

	apiServer := api.NewServer(supervisor, publisher, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := supervisor.Close(shutdownCtx); err != nil {
		logger.Error("supervisor shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
