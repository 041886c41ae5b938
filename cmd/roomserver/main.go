// Package main runs the room relay: a WebSocket server that creates, joins and
// starts rooms and relays member movement between their connections.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/paate57/among-pale/internal/config"
	"github.com/paate57/among-pale/internal/frontend/handlers"
	"github.com/paate57/among-pale/internal/frontend/ws"
	"github.com/paate57/among-pale/internal/observability"
	"github.com/paate57/among-pale/internal/room"
	"github.com/paate57/among-pale/internal/server"
	"github.com/paate57/among-pale/internal/session"
)

const statsInterval = time.Minute

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting room relay",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("path", cfg.Server.Path),
		zap.Int("max_members", cfg.Rooms.MaxMembers),
		zap.Int("min_players", cfg.Rooms.MinPlayers),
	)

	registry := room.NewRegistry(room.Options{
		MaxMembers:   cfg.Rooms.MaxMembers,
		CodeAttempts: cfg.Rooms.CodeAttempts,
	})
	dispatcher := session.NewDispatcher(registry, cfg.Rooms.MinPlayers, logger)
	roomHandler := handlers.NewRoomHandler(dispatcher, cfg.WebSocket.SendBuffer, logger)
	wsServer := ws.NewServer(cfg.Server, cfg.WebSocket, roomHandler, registry, logger)

	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("room-stats", server.NewPeriodic(statsInterval, func() {
		members := 0
		for _, code := range registry.Codes() {
			if r, ok := registry.Get(code); ok {
				members += r.Len()
			}
		}
		logger.Info("room stats",
			zap.Int("rooms", registry.Len()),
			zap.Int("members", members),
		)
	}))

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: wsServer.ListenAndServe,
		StopFn:  wsServer.Stop,
	})

	logger.Info("room relay initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
