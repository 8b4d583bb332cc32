package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/skillscale/skillscale/internal/node"
)

type fileConfig struct {
	Topic         string `toml:"topic"`
	Description   string `toml:"description"`
	SkillsDir     string `toml:"skills_dir"`
	ProxyXPub     string `toml:"proxy_xpub"`
	ProxyXSub     string `toml:"proxy_xsub"`
	HWM           int    `toml:"hwm"`
	TimeoutMS     int64  `toml:"timeout_ms"`
	Workers       int    `toml:"workers"`
	Matcher       string `toml:"matcher"`
	MatcherCmd    string `toml:"matcher_command"`
	PromptFile    string `toml:"prompt_file"`
	Python        string `toml:"python"`
	Runner        string `toml:"runner"`
	AdminAddr     string `toml:"admin_addr"`
	SSHHost       string `toml:"ssh_host"`
	SSHPort       string `toml:"ssh_port"`
	SSHUser       string `toml:"ssh_user"`
	SSHKey        string `toml:"ssh_key"`
	SSHKnownHosts string `toml:"ssh_known_hosts"`
}

// loadConfig layers compiled defaults, an optional TOML file, the
// environment, and CLI flags, in that order. Flags are key/value pairs;
// unknown flags are ignored.
func loadConfig(args []string) (node.Config, error) {
	cfg := node.DefaultConfig()

	if path := configPath(args); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return node.Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return node.Config{}, err
	}
	if err := applyFlags(&cfg, args); err != nil {
		return node.Config{}, err
	}
	return cfg, nil
}

func configPath(args []string) string {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "--config" {
			return args[i+1]
		}
	}
	return os.Getenv("SKILLSCALE_NODE_CONFIG")
}

func applyFile(cfg *node.Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}

	set := func(key string, dst *string, val string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(val)
		}
	}
	set("topic", &cfg.Topic, raw.Topic)
	set("description", &cfg.Description, raw.Description)
	set("skills_dir", &cfg.SkillsDir, raw.SkillsDir)
	set("proxy_xpub", &cfg.ProxyXPub, raw.ProxyXPub)
	set("proxy_xsub", &cfg.ProxyXSub, raw.ProxyXSub)
	set("matcher", &cfg.Matcher, raw.Matcher)
	set("matcher_command", &cfg.MatcherCmd, raw.MatcherCmd)
	set("prompt_file", &cfg.PromptFile, raw.PromptFile)
	set("python", &cfg.Python, raw.Python)
	set("runner", &cfg.Runner, raw.Runner)
	set("admin_addr", &cfg.AdminAddr, raw.AdminAddr)
	set("ssh_host", &cfg.SSH.Host, raw.SSHHost)
	set("ssh_port", &cfg.SSH.Port, raw.SSHPort)
	set("ssh_user", &cfg.SSH.User, raw.SSHUser)
	set("ssh_key", &cfg.SSH.KeyPath, raw.SSHKey)
	set("ssh_known_hosts", &cfg.SSH.KnownHostsPath, raw.SSHKnownHosts)

	if meta.IsDefined("hwm") {
		cfg.HWM = raw.HWM
	}
	if meta.IsDefined("timeout_ms") {
		cfg.ExecTimeout = time.Duration(raw.TimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	return nil
}

func applyEnv(cfg *node.Config) error {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("SKILLSCALE_TOPIC", &cfg.Topic)
	setStr("SKILLSCALE_DESCRIPTION", &cfg.Description)
	setStr("SKILLSCALE_SKILLS_DIR", &cfg.SkillsDir)
	setStr("SKILLSCALE_PROXY_XPUB", &cfg.ProxyXPub)
	setStr("SKILLSCALE_PROXY_XSUB", &cfg.ProxyXSub)
	setStr("SKILLSCALE_MATCHER", &cfg.Matcher)
	setStr("SKILLSCALE_MATCHER_COMMAND", &cfg.MatcherCmd)
	setStr("SKILLSCALE_PROMPT_FILE", &cfg.PromptFile)
	setStr("SKILLSCALE_PYTHON", &cfg.Python)
	setStr("SKILLSCALE_RUNNER", &cfg.Runner)
	setStr("SKILLSCALE_ADMIN_ADDR", &cfg.AdminAddr)
	setStr("SKILLSCALE_SSH_HOST", &cfg.SSH.Host)
	setStr("SKILLSCALE_SSH_PORT", &cfg.SSH.Port)
	setStr("SKILLSCALE_SSH_USER", &cfg.SSH.User)
	setStr("SKILLSCALE_SSH_KEY", &cfg.SSH.KeyPath)
	setStr("SKILLSCALE_SSH_KNOWN_HOSTS", &cfg.SSH.KnownHostsPath)

	if v := os.Getenv("SKILLSCALE_HWM"); v != "" {
		hwm, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SKILLSCALE_HWM: %w", err)
		}
		cfg.HWM = hwm
	}
	if v := os.Getenv("SKILLSCALE_TIMEOUT"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse SKILLSCALE_TIMEOUT: %w", err)
		}
		cfg.ExecTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("SKILLSCALE_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SKILLSCALE_WORKERS: %w", err)
		}
		cfg.Workers = workers
	}
	return nil
}

func applyFlags(cfg *node.Config, args []string) error {
	for i := 0; i+1 < len(args); i += 2 {
		key, val := args[i], args[i+1]
		switch key {
		case "--topic":
			cfg.Topic = val
		case "--description":
			cfg.Description = val
		case "--skills-dir":
			cfg.SkillsDir = val
		case "--proxy-xpub":
			cfg.ProxyXPub = val
		case "--proxy-xsub":
			cfg.ProxyXSub = val
		case "--matcher":
			cfg.Matcher = val
		case "--matcher-command":
			cfg.MatcherCmd = val
		case "--prompt-file":
			cfg.PromptFile = val
		case "--python":
			cfg.Python = val
		case "--runner":
			cfg.Runner = val
		case "--admin-addr":
			cfg.AdminAddr = val
		case "--ssh-host":
			cfg.SSH.Host = val
		case "--ssh-port":
			cfg.SSH.Port = val
		case "--ssh-user":
			cfg.SSH.User = val
		case "--ssh-key":
			cfg.SSH.KeyPath = val
		case "--ssh-known-hosts":
			cfg.SSH.KnownHostsPath = val
		case "--hwm":
			hwm, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("parse --hwm: %w", err)
			}
			cfg.HWM = hwm
		case "--timeout", "--skill-exec-timeout":
			ms, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			cfg.ExecTimeout = time.Duration(ms) * time.Millisecond
		case "--workers":
			workers, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("parse --workers: %w", err)
			}
			cfg.Workers = workers
		}
	}
	return nil
}
