// Package main is a headless room client. It creates or joins a room, optionally
// starts it, and wanders around the map relaying moves until the run ends.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paate57/among-pale/internal/client"
	"github.com/paate57/among-pale/internal/config"
	"github.com/paate57/among-pale/internal/observability"
)

func main() {
	defaults, err := client.OptionsFromEnv()
	if err != nil {
		log.Fatalf("loading client environment: %v", err)
	}

	cmd := &cli.Command{
		Name:  "roomclient",
		Usage: "headless client for the room relay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: defaults.URL, Usage: "relay WebSocket URL"},
			&cli.DurationFlag{Name: "move-interval", Value: defaults.MoveInterval, Usage: "minimum spacing between sent moves"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a room and wander in it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "nickname", Aliases: []string{"n"}, Value: "host", Usage: "display name (2-15 characters)"},
					&cli.StringFlag{Name: "color", Usage: "preferred palette colour"},
					&cli.DurationFlag{Name: "start-after", Usage: "start the game after this long; zero never starts"},
					&cli.DurationFlag{Name: "duration", Value: time.Minute, Usage: "how long to stay"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(defaults, cmd)
					if err != nil {
						return err
					}
					defer func() { _ = a.logger.Sync() }()
					return a.host(ctx, botConfig{
						nickname:   cmd.String("nickname"),
						color:      cmd.String("color"),
						startAfter: cmd.Duration("start-after"),
						duration:   cmd.Duration("duration"),
					})
				},
			},
			{
				Name:      "join",
				Usage:     "join a room with one or more bots",
				ArgsUsage: "ROOM_CODE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "nickname", Aliases: []string{"n"}, Value: "bot", Usage: "display name; a suffix is added when --bots > 1"},
					&cli.StringFlag{Name: "color", Usage: "preferred palette colour"},
					&cli.IntFlag{Name: "bots", Value: 1, Usage: "number of connections to open"},
					&cli.DurationFlag{Name: "duration", Value: time.Minute, Usage: "how long to stay"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return cli.Exit("join needs exactly one ROOM_CODE argument", 2)
					}
					a, err := newApp(defaults, cmd)
					if err != nil {
						return err
					}
					defer func() { _ = a.logger.Sync() }()

					bots := int(cmd.Int("bots"))
					if bots < 1 {
						return cli.Exit("--bots must be at least 1", 2)
					}
					g, gctx := errgroup.WithContext(ctx)
					for i := range bots {
						nick := cmd.String("nickname")
						if bots > 1 {
							nick = fmt.Sprintf("%s%d", nick, i+1)
						}
						g.Go(func() error {
							return a.guest(gctx, cmd.Args().First(), botConfig{
								nickname: nick,
								color:    cmd.String("color"),
								duration: cmd.Duration("duration"),
							})
						})
					}
					return g.Wait()
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp resolves the global flags into client options and a logger.
func newApp(defaults client.Options, cmd *cli.Command) (*app, error) {
	opts := defaults
	opts.URL = cmd.String("url")
	opts.MoveInterval = cmd.Duration("move-interval")
	if err := opts.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}

	level := "info"
	if cmd.Bool("verbose") {
		level = "debug"
	}
	logger, err := observability.NewLogger(config.LoggingConfig{Level: level, Format: "console"})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger.Debug("client options",
		zap.String("url", opts.URL),
		zap.Duration("move_interval", opts.MoveInterval),
		zap.Duration("reconnect_delay", opts.ReconnectDelay),
		zap.Int("max_reconnect_attempts", opts.MaxReconnectAttempts),
	)
	return &app{opts: opts, logger: logger, out: os.Stdout}, nil
}
