package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dndj/cache"
	"dndj/core/audio"
	"dndj/core/auth"
	"dndj/core/catalog"
	"dndj/core/player"
	"dndj/core/room"
	"dndj/logger"
	"dndj/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Validate the catalog, prefetch remote tracks and start the session server",
	Long: `Loads and validates the catalog, downloads every remote track that is not
cached yet, then serves observers over WebSocket until interrupted.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := openCache(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := catalog.Validate(ctx, c, env.cache, cfg.PrefetchWorkers); err != nil {
		return fmt.Errorf("catalog %s is invalid: %w", cfg.CatalogPath, err)
	}
	logger.Info("catalog ready", logger.String("path", cfg.CatalogPath), logger.Int("groups", len(c.Groups)))

	watcher, err := cache.NewInventoryWatcher(env.cache)
	if err != nil {
		return err
	}
	go watcher.Run(ctx)

	sink := audio.NewSpeakerSink()
	defer sink.Close()

	var relay room.Relay
	if env.mirror != nil {
		relay = env.mirror
	}
	hub := room.NewHub(relay)
	go hub.Run(ctx)

	scheduler := player.NewScheduler(c, env.cache, sink, hub)
	go scheduler.Run(ctx)

	var tokens *auth.Tokens
	if cfg.ObserverJWTToken != "" {
		tokens = auth.NewTokens(cfg.ObserverJWTToken, 0)
		logger.Info("observer authentication enabled")
	}

	srv := server.New(ctx, server.Options{
		Player: scheduler,
		Cache:  env.cache,
		Hub:    hub,
		Tokens: tokens,
	})
	err = srv.ListenAndServe(cfg.Addr())

	stop()
	<-scheduler.Done()
	return err
}
