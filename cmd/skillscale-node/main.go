package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillscale/skillscale/internal/node"
	"github.com/skillscale/skillscale/internal/observability"
)

func main() {
	logger := observability.InitLogger("skillscale-node")

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	svc, err := node.NewService(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("node setup failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("node failed")
		os.Exit(1)
	}
}
