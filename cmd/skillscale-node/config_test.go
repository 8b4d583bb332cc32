package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Topic != "TOPIC_DEFAULT" || cfg.SkillsDir != "./skills" {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
	if cfg.HWM != 10000 || cfg.Workers != 2 || cfg.ExecTimeout != 30*time.Second {
		t.Fatalf("tuning defaults mismatch: %+v", cfg)
	}
	if cfg.ProxyXPub != "tcp://127.0.0.1:5555" || cfg.ProxyXSub != "tcp://127.0.0.1:5444" {
		t.Fatalf("proxy defaults mismatch: %+v", cfg)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("SKILLSCALE_TOPIC", "TOPIC_DATA")
	t.Setenv("SKILLSCALE_TIMEOUT", "1500")
	t.Setenv("SKILLSCALE_WORKERS", "4")

	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Topic != "TOPIC_DATA" || cfg.Workers != 4 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.ExecTimeout != 1500*time.Millisecond {
		t.Fatalf("timeout not applied: %v", cfg.ExecTimeout)
	}
}

func TestLoadConfigFlagsWinOverEnv(t *testing.T) {
	t.Setenv("SKILLSCALE_TOPIC", "TOPIC_ENV")

	cfg, err := loadConfig([]string{
		"--topic", "TOPIC_FLAG",
		"--skill-exec-timeout", "2500",
		"--mystery-flag", "ignored",
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Topic != "TOPIC_FLAG" {
		t.Fatalf("flag must win over env: %+v", cfg)
	}
	if cfg.ExecTimeout != 2500*time.Millisecond {
		t.Fatalf("timeout alias not applied: %v", cfg.ExecTimeout)
	}
}

func TestLoadConfigBadWorkers(t *testing.T) {
	t.Setenv("SKILLSCALE_WORKERS", "many")
	if _, err := loadConfig(nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	content := "topic = \"TOPIC_FILE\"\ntimeout_ms = 9000\nrunner = \"ssh\"\nssh_host = \"worker-1\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig([]string{"--config", path})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Topic != "TOPIC_FILE" || cfg.ExecTimeout != 9*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Runner != "ssh" || cfg.SSH.Host != "worker-1" {
		t.Fatalf("ssh values not applied: %+v", cfg)
	}
	// Env still beats the file.
	t.Setenv("SKILLSCALE_TOPIC", "TOPIC_ENV")
	cfg, err = loadConfig([]string{"--config", path})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Topic != "TOPIC_ENV" {
		t.Fatalf("env must win over file: %+v", cfg)
	}
}
