package node

import (
	"context"
	"testing"
	"time"
)

func TestRunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkillsDir = t.TempDir()
	cfg.Matcher = "noop"
	// Connecting is fine without a live proxy; the transport dials in
	// the background.
	cfg.ProxyXPub = "tcp://127.0.0.1:39555"
	cfg.ProxyXSub = "tcp://127.0.0.1:39444"

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop within the poll interval")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Topic != "TOPIC_DEFAULT" {
		t.Fatalf("default topic mismatch: %q", cfg.Topic)
	}
	if cfg.Workers != 2 || cfg.ExecTimeout != 30*time.Second {
		t.Fatalf("default tuning mismatch: %+v", cfg)
	}
	if cfg.Matcher != "llm" || cfg.Python != "python3" || cfg.Runner != "local" {
		t.Fatalf("default dispatch settings mismatch: %+v", cfg)
	}
}
