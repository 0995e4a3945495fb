package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"webrtc101/internal/app/broadcast"
	"webrtc101/internal/app/httpapi"
	"webrtc101/internal/app/rooms"
	"webrtc101/internal/config"
	"webrtc101/internal/logger"
	"webrtc101/pkg/presence"
	"webrtc101/pkg/signaling"
)

const shutdownTimeout = 3 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "webrtc101",
		Short:         "Room signaling server for peer-to-peer video calls",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFile)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml, json, toml or .env)")
	root.AddCommand(newRoomsCmd())
	return root
}

func serve(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logg := logger.New(cfg.LogLevel, nil)
	for _, w := range cfg.Warnings {
		logg.Warn(w)
	}
	logConfig(cfg, logg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mirror, rdb, err := newMirror(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	hub := signaling.NewHub(rooms.NewRegistry(), signaling.HubOptions{
		Logger:        logg,
		StrictReplies: cfg.StrictReplies,
		Mirror:        mirror,
	})
	go hub.RunReaper(ctx, cfg.ReapInterval, cfg.RoomIdleTTL)

	router := httpapi.NewRouter(httpapi.Settings{
		ICEMode:     cfg.ICEMode,
		ICEServers:  cfg.ICEServers,
		PublicWSURL: cfg.PublicWSURL,
		StaticDir:   cfg.StaticDir,
	}, hub, hub.HTTPHandler(), logg)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("listening", "addr", cfg.Addr, "static_dir", cfg.StaticDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			hub.Close()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("failed to stop http server", "err", err)
	}
	hub.Close()
	logg.Info("stopped")
	return nil
}

// newMirror connects the optional Redis presence mirror and clears what a
// previous process left behind.
func newMirror(ctx context.Context, cfg config.RedisConfig, logg *slog.Logger) (signaling.Mirror, *redis.Client, error) {
	if cfg.Addr == "" {
		return signaling.Mirror{}, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return signaling.Mirror{}, nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	mirror := signaling.Mirror{
		Presence: presence.NewRedisStore(rdb, cfg.Prefix),
		Sharing:  broadcast.NewRedisStore(rdb, cfg.Prefix),
	}
	if err := mirror.Reset(pingCtx); err != nil {
		logg.Warn("redis reset presence", "err", err)
	}
	logg.Info("presence mirror enabled", "redis_addr", cfg.Addr, "prefix", cfg.Prefix)
	return mirror, rdb, nil
}

func logConfig(cfg config.Config, logg *slog.Logger) {
	turnConfigured := false
	for _, s := range cfg.ICEServers {
		if s.Username != "" || s.Credential != "" {
			turnConfigured = true
			break
		}
	}

	logg.Info("config",
		"addr", cfg.Addr,
		"static_dir", cfg.StaticDir,
		"redis_addr", cfg.Redis.Addr,
		"strict_replies", cfg.StrictReplies,
		"room_idle_ttl", cfg.RoomIdleTTL.String(),
		"ice_mode", cfg.ICEMode,
		"ice_servers", len(cfg.ICEServers),
		"turn_configured", turnConfigured,
	)
}
