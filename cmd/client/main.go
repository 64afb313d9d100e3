// Command client is a simple test client for the replication server. It
// reads movement commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LemmyAI/netsync/internal/config"
	"github.com/LemmyAI/netsync/internal/game"
	"github.com/LemmyAI/netsync/internal/logging"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

var errSessionEnded = errors.New("session ended")

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
		logger.Fatal("client failed", zap.Error(err))
	}
	logger.Info("goodbye")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := transport.New(cfg.Transport, transport.DefaultConfig(), logger.Named("transport"))
	if err != nil {
		return err
	}
	client := game.NewClient(game.ClientConfig{
		Secret:       cfg.Secret,
		Name:         cfg.Name,
		PlayerPrefab: cfg.PlayerPrefab,
		TickRate:     cfg.TickRate,
	}, t, world.NewHeadless(nil), logger)
	defer client.Close()

	if err := client.Connect(cfg.ServerAddr()); err != nil {
		return err
	}

	fmt.Println("Commands: w, a, s, d to move, c to toggle crouch, turn <degrees>, quit")
	go readCommands(os.Stdin, client, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			logger.Info("session ended", zap.Stringer("reason", client.Reason()))
			return errSessionEnded
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionEnded) {
		return err
	}
	return nil
}

// readCommands turns stdin lines into move requests posted to the client's
// engine.
func readCommands(r io.Reader, client *game.Client, logger *zap.Logger) {
	var (
		yaw       float32
		crouching bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var move protocol.Vec3
		switch fields[0] {
		case "quit":
			client.Post(func() {
				if err := client.Disconnect(); err != nil {
					logger.Warn("disconnect failed", zap.Error(err))
				}
			})
			return
		case "w":
			move.Z = 1
		case "s":
			move.Z = -1
		case "a":
			move.X = -1
		case "d":
			move.X = 1
		case "c", "crouch":
			crouching = !crouching
		case "turn":
			if len(fields) < 2 {
				continue
			}
			deg, err := strconv.ParseFloat(fields[1], 32)
			if err != nil {
				fmt.Println("turn needs a number of degrees")
				continue
			}
			yaw = float32(deg)
		default:
			continue
		}

		yaw, crouching := yaw, crouching
		client.Post(func() {
			if err := client.Move(move, yaw, crouching); err != nil {
				logger.Warn("move not sent", zap.Error(err))
			}
		})
	}
}
