// skillscale-client publishes one intent and prints the reply, a small
// requester for smoke-testing a running fabric.
//
//	skillscale-client --topic TOPIC_ECHO --intent "hello" --timeout 10000
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/skillscale/skillscale/internal/client"
	"github.com/skillscale/skillscale/internal/envelope"
	"github.com/skillscale/skillscale/internal/observability"
)

func main() {
	logger := observability.InitLogger("skillscale-client")

	cfg := client.DefaultConfig()
	topic := "TOPIC_DEFAULT"
	intent := ""

	if v := os.Getenv("SKILLSCALE_PROXY_XSUB"); v != "" {
		cfg.ProxyXSub = v
	}
	if v := os.Getenv("SKILLSCALE_PROXY_XPUB"); v != "" {
		cfg.ProxyXPub = v
	}
	if v := os.Getenv("SKILLSCALE_TIMEOUT"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}

	args := os.Args[1:]
	for i := 0; i+1 < len(args); i += 2 {
		switch args[i] {
		case "--topic":
			topic = args[i+1]
		case "--intent":
			intent = args[i+1]
		case "--proxy-xsub":
			cfg.ProxyXSub = args[i+1]
		case "--proxy-xpub":
			cfg.ProxyXPub = args[i+1]
		case "--timeout":
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				logger.Error().Err(err).Msg("invalid --timeout")
				os.Exit(1)
			}
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}

	if intent == "" {
		logger.Error().Msg("--intent is required")
		os.Exit(1)
	}

	c, err := client.Connect(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("connect failed")
		os.Exit(1)
	}
	defer c.Close()

	rep, err := c.Request(context.Background(), topic, intent, cfg.Timeout)
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		os.Exit(1)
	}

	if rep.Status == envelope.StatusSuccess {
		fmt.Print(rep.Content)
		if rep.Content != "" && rep.Content[len(rep.Content)-1] != '\n' {
			fmt.Println()
		}
		return
	}

	logger.Error().Str("status", rep.Status).Str("error", rep.Error).Msg("skill failed")
	os.Exit(1)
}
