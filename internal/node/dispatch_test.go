package node

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/skillscale/skillscale/internal/envelope"
)

type capturePub struct {
	frames [][]byte
	flags  []zmq.Flag
}

func (c *capturePub) SendBytes(data []byte, flags zmq.Flag) (int, error) {
	c.frames = append(c.frames, append([]byte(nil), data...))
	c.flags = append(c.flags, flags)
	return len(data), nil
}

func (c *capturePub) reply(t *testing.T) envelope.Reply {
	t.Helper()
	if len(c.frames) != 2 {
		t.Fatalf("expected 2 published frames, got %d", len(c.frames))
	}
	if c.flags[0] != zmq.SNDMORE || c.flags[1] != 0 {
		t.Fatalf("more-bit not carried correctly: %v", c.flags)
	}
	rep, err := envelope.ParseReply(c.frames[0], c.frames[1])
	if err != nil {
		t.Fatalf("parse published reply: %v", err)
	}
	return rep
}

func writeRunScript(t *testing.T, base, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(base, "scripts"), 0o755); err != nil {
		t.Fatalf("mkdir scripts: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "scripts", "run.sh"), []byte(body), 0o755); err != nil {
		t.Fatalf("write run.sh: %v", err)
	}
}

func writeSkillDir(t *testing.T, root, name, description string) string {
	t.Helper()
	base := filepath.Join(root, name)
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\nInstructions for " + name + ".\n"
	if err := os.WriteFile(filepath.Join(base, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
	return base
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func echoServiceConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	base := writeSkillDir(t, root, "echo", "Echoes its input back")
	writeRunScript(t, base, "#!/bin/sh\ncat\n")

	cfg := DefaultConfig()
	cfg.Topic = "TOPIC_ECHO"
	cfg.SkillsDir = root
	cfg.Matcher = "noop"
	cfg.ExecTimeout = 5 * time.Second
	return cfg
}

func requestPayload(t *testing.T, requestID, replyTo, intent string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"request_id": requestID,
		"reply_to":   replyTo,
		"intent":     intent,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return payload
}

func TestProcessHappyPath(t *testing.T) {
	svc := newTestService(t, echoServiceConfig(t))
	pub := &capturePub{}

	svc.process([2][]byte{
		[]byte("TOPIC_ECHO"),
		requestPayload(t, "r1", "REPLY_1", "hello"),
	}, pub)

	rep := pub.reply(t)
	if rep.ReplyTo != "REPLY_1" {
		t.Fatalf("reply topic mismatch: %q", rep.ReplyTo)
	}
	if rep.RequestID != "r1" || rep.Status != envelope.StatusSuccess {
		t.Fatalf("unexpected reply: %+v", rep)
	}
	if rep.Content != "hello" {
		t.Fatalf("content mismatch: %q", rep.Content)
	}
	if rep.Error != "" {
		t.Fatalf("error must be empty on success: %q", rep.Error)
	}
}

func TestProcessExtractsTaskData(t *testing.T) {
	svc := newTestService(t, echoServiceConfig(t))
	pub := &capturePub{}

	svc.process([2][]byte{
		[]byte("TOPIC_ECHO"),
		requestPayload(t, "r2", "REPLY_2", `{"task":"analyze","data":"1,2,3"}`),
	}, pub)

	rep := pub.reply(t)
	if rep.Content != "1,2,3" {
		t.Fatalf("data field must win: %q", rep.Content)
	}
}

func TestProcessDropsMalformedEnvelope(t *testing.T) {
	svc := newTestService(t, echoServiceConfig(t))

	for _, payload := range [][]byte{
		[]byte("not json"),
		[]byte(`{"reply_to":"R","intent":"x"}`),
		[]byte(`{"request_id":7,"reply_to":"R","intent":"x"}`),
	} {
		pub := &capturePub{}
		svc.process([2][]byte{[]byte("TOPIC_ECHO"), payload}, pub)
		if len(pub.frames) != 0 {
			t.Fatalf("malformed envelope %s must produce zero replies, got %d frames", payload, len(pub.frames))
		}
	}
}

func TestProcessNoMatchingSkill(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "alpha", "First skill")
	writeSkillDir(t, root, "beta", "Second skill")

	cfg := DefaultConfig()
	cfg.Topic = "TOPIC_MULTI"
	cfg.SkillsDir = root
	cfg.Matcher = "noop"
	svc := newTestService(t, cfg)
	pub := &capturePub{}

	svc.process([2][]byte{
		[]byte("TOPIC_MULTI"),
		requestPayload(t, "r3", "REPLY_3", "do something"),
	}, pub)

	rep := pub.reply(t)
	if rep.Status != envelope.StatusError {
		t.Fatalf("expected error reply, got %+v", rep)
	}
	if rep.Error != "No matching skill found for topic: TOPIC_MULTI" {
		t.Fatalf("diagnostic mismatch: %q", rep.Error)
	}
}

func TestProcessChildFailure(t *testing.T) {
	root := t.TempDir()
	base := writeSkillDir(t, root, "broken", "Always fails")
	writeRunScript(t, base, "#!/bin/sh\necho oops >&2\nexit 3\n")

	cfg := DefaultConfig()
	cfg.Topic = "TOPIC_BROKEN"
	cfg.SkillsDir = root
	cfg.Matcher = "noop"
	cfg.ExecTimeout = 5 * time.Second
	svc := newTestService(t, cfg)
	pub := &capturePub{}

	svc.process([2][]byte{
		[]byte("TOPIC_BROKEN"),
		requestPayload(t, "r4", "REPLY_4", "x"),
	}, pub)

	rep := pub.reply(t)
	if rep.Status != envelope.StatusError {
		t.Fatalf("expected error reply, got %+v", rep)
	}
	if rep.Error != "Skill execution failed (exit=3): oops" {
		t.Fatalf("diagnostic mismatch: %q", rep.Error)
	}
	if rep.Content != "" {
		t.Fatalf("content must be empty on error: %q", rep.Content)
	}
}

func TestProcessDeadline(t *testing.T) {
	root := t.TempDir()
	base := writeSkillDir(t, root, "sleeper", "Sleeps forever")
	writeRunScript(t, base, "#!/bin/sh\nsleep 60\n")

	cfg := DefaultConfig()
	cfg.Topic = "TOPIC_SLOW"
	cfg.SkillsDir = root
	cfg.Matcher = "noop"
	cfg.ExecTimeout = 300 * time.Millisecond
	svc := newTestService(t, cfg)
	pub := &capturePub{}

	start := time.Now()
	svc.process([2][]byte{
		[]byte("TOPIC_SLOW"),
		requestPayload(t, "r5", "REPLY_5", "x"),
	}, pub)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("deadline did not fire promptly: %v", elapsed)
	}

	rep := pub.reply(t)
	if rep.Status != envelope.StatusError {
		t.Fatalf("expected error reply, got %+v", rep)
	}
	if !strings.Contains(rep.Error, "Execution timed out after 300ms") {
		t.Fatalf("timeout diagnostic mismatch: %q", rep.Error)
	}
}

func TestProcessInlineInstructions(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "docs-only", "Ships instructions, no script")

	cfg := DefaultConfig()
	cfg.Topic = "TOPIC_DOCS"
	cfg.SkillsDir = root
	cfg.Matcher = "noop"
	svc := newTestService(t, cfg)
	pub := &capturePub{}

	svc.process([2][]byte{
		[]byte("TOPIC_DOCS"),
		requestPayload(t, "r6", "REPLY_6", "read the docs"),
	}, pub)

	rep := pub.reply(t)
	if rep.Status != envelope.StatusSuccess {
		t.Fatalf("expected success, got %+v", rep)
	}
	if !strings.Contains(rep.Content, "Instructions for docs-only") {
		t.Fatalf("instruction body missing: %q", rep.Content)
	}
}

func TestNewServiceUnknownRunner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkillsDir = t.TempDir()
	cfg.Runner = "teleport"
	if _, err := NewService(cfg); err == nil {
		t.Fatalf("expected unknown runner error")
	}
}

func TestNewServiceUnknownMatcher(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkillsDir = t.TempDir()
	cfg.Matcher = "bogus"
	if _, err := NewService(cfg); err == nil {
		t.Fatalf("expected unknown matcher error")
	}
}
