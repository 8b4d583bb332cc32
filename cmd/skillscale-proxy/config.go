package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/skillscale/skillscale/internal/broker"
)

type fileConfig struct {
	XSubBind    string `toml:"xsub_bind"`
	XPubBind    string `toml:"xpub_bind"`
	MetricsPort int    `toml:"metrics_port"`
	HWM         int    `toml:"hwm"`
	AdminAddr   string `toml:"admin_addr"`
}

// loadConfig layers compiled defaults, an optional TOML file, the
// environment, and CLI flags, in that order. Flags are key/value pairs;
// unknown flags are ignored.
func loadConfig(args []string) (broker.Config, error) {
	cfg := broker.DefaultConfig()

	if path := configPath(args); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return broker.Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return broker.Config{}, err
	}
	if err := applyFlags(&cfg, args); err != nil {
		return broker.Config{}, err
	}
	return cfg, nil
}

func configPath(args []string) string {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "--config" {
			return args[i+1]
		}
	}
	return os.Getenv("SKILLSCALE_PROXY_CONFIG")
}

func applyFile(cfg *broker.Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load proxy config: %w", err)
	}

	if meta.IsDefined("xsub_bind") {
		cfg.XSubBind = strings.TrimSpace(raw.XSubBind)
	}
	if meta.IsDefined("xpub_bind") {
		cfg.XPubBind = strings.TrimSpace(raw.XPubBind)
	}
	if meta.IsDefined("metrics_port") {
		cfg.MetricsPort = raw.MetricsPort
	}
	if meta.IsDefined("hwm") {
		cfg.HWM = raw.HWM
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	return nil
}

func applyEnv(cfg *broker.Config) error {
	if v := os.Getenv("SKILLSCALE_XSUB_BIND"); v != "" {
		cfg.XSubBind = v
	}
	if v := os.Getenv("SKILLSCALE_XPUB_BIND"); v != "" {
		cfg.XPubBind = v
	}
	if v := os.Getenv("SKILLSCALE_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SKILLSCALE_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = port
	}
	if v := os.Getenv("SKILLSCALE_PROXY_HWM"); v != "" {
		hwm, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SKILLSCALE_PROXY_HWM: %w", err)
		}
		cfg.HWM = hwm
	}
	if v := os.Getenv("SKILLSCALE_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	return nil
}

func applyFlags(cfg *broker.Config, args []string) error {
	for i := 0; i+1 < len(args); i += 2 {
		key, val := args[i], args[i+1]
		switch key {
		case "--xsub-bind":
			cfg.XSubBind = val
		case "--xpub-bind":
			cfg.XPubBind = val
		case "--metrics-port":
			port, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("parse --metrics-port: %w", err)
			}
			cfg.MetricsPort = port
		case "--hwm":
			hwm, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("parse --hwm: %w", err)
			}
			cfg.HWM = hwm
		case "--admin-addr":
			cfg.AdminAddr = val
		}
	}
	return nil
}
