package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillscale/skillscale/internal/broker"
	"github.com/skillscale/skillscale/internal/observability"
)

func main() {
	logger := observability.InitLogger("skillscale-proxy")

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := broker.New(cfg).Run(ctx); err != nil {
		logger.Error().Err(err).Msg("proxy failed")
		os.Exit(1)
	}
}
