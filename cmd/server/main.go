// Command server runs the authoritative replication server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LemmyAI/netsync/internal/config"
	"github.com/LemmyAI/netsync/internal/game"
	"github.com/LemmyAI/netsync/internal/ids"
	"github.com/LemmyAI/netsync/internal/logging"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

const statusInterval = 30 * time.Second

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("bye")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := transport.New(cfg.Transport, transport.DefaultConfig(), logger.Named("transport"))
	if err != nil {
		return err
	}
	clientIDs, err := ids.New(cfg.IDMode)
	if err != nil {
		return err
	}
	entityIDs, err := ids.New(cfg.IDMode)
	if err != nil {
		return err
	}

	server := game.NewServer(game.ServerConfig{
		Secret:            cfg.Secret,
		Capacity:          cfg.Capacity,
		AttemptsPerSecond: cfg.AttemptRate,
		AttemptBurst:      cfg.AttemptBurst,
		Scene:             cfg.Scene,
		TickRate:          cfg.TickRate,
		ClientIDs:         clientIDs,
		EntityIDs:         entityIDs,
	}, t, world.NewHeadless(nil), logger)
	defer server.Close()

	if err := server.Listen(ctx, cfg.ListenAddr()); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				return nil
			case <-ticker.C:
				server.Post(func() {
					logger.Info("status",
						zap.Int("clients", server.Clients().Count()),
						zap.Int("entities", server.Entities().Len()),
						zap.Uint64("tick", server.CurrentTick()))
				})
			}
		}
	})
	return g.Wait()
}
