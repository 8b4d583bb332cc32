// Package node implements the topic-subscribed worker: one receiver loop
// feeding a bounded queue, N executors each owning a publisher socket,
// and the per-request dispatch pipeline from envelope to reply.
package node

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/skillscale/skillscale/internal/executil"
	"github.com/skillscale/skillscale/internal/observability"
	"github.com/skillscale/skillscale/internal/skills"
)

const (
	pollInterval = 250 * time.Millisecond
	// Late-joiner avoidance: time for the subscription frame to
	// propagate upstream before draining begins.
	settleDelay = 500 * time.Millisecond

	heartbeatInterval = 5 * time.Second
)

// Config holds the worker node settings.
type Config struct {
	Topic       string
	Description string
	SkillsDir   string
	ProxyXPub   string
	ProxyXSub   string
	HWM         int
	ExecTimeout time.Duration
	Workers     int
	Matcher     string
	MatcherCmd  string
	PromptFile  string
	Python      string
	Runner      string
	SSH         executil.SSHConfig
	AdminAddr   string
}

func DefaultConfig() Config {
	return Config{
		Topic:       "TOPIC_DEFAULT",
		SkillsDir:   "./skills",
		ProxyXPub:   "tcp://127.0.0.1:5555",
		ProxyXSub:   "tcp://127.0.0.1:5444",
		HWM:         10000,
		ExecTimeout: 30 * time.Second,
		Workers:     2,
		Matcher:     "llm",
		Python:      "python3",
		Runner:      "local",
	}
}

// Service is one worker node instance.
type Service struct {
	cfg      Config
	registry *skills.Registry
	matcher  skills.Matcher
	runner   executil.Runner
}

// NewService loads the skill registry and resolves the matcher and
// runner. A missing or empty skills directory is a warning, not a
// failure; an unknown matcher or runner mode is fatal.
func NewService(cfg Config) (*Service, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	registry := skills.NewRegistry()
	loaded, err := registry.LoadDir(cfg.SkillsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.SkillsDir).Msg("skills directory not loaded")
	} else if loaded == 0 {
		log.Warn().Str("dir", cfg.SkillsDir).Msg("no skills loaded")
	}

	var runner executil.Runner
	switch cfg.Runner {
	case "", "local":
		runner = executil.Local{}
	case "ssh":
		runner = executil.SSH{Config: cfg.SSH}
	default:
		return nil, fmt.Errorf("node: unknown runner %q", cfg.Runner)
	}

	matcher, err := skills.NewMatcher(registry, skills.MatcherConfig{
		Mode:       cfg.Matcher,
		Command:    cfg.MatcherCmd,
		PromptFile: cfg.PromptFile,
		Python:     cfg.Python,
		Timeout:    cfg.ExecTimeout,
		Runner:     runner,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:      cfg,
		registry: registry,
		matcher:  matcher,
		runner:   runner,
	}, nil
}

// Registry exposes the loaded skills.
func (s *Service) Registry() *skills.Registry {
	return s.registry
}

// Run subscribes to the configured topic and processes requests until
// ctx is canceled. Connect failures are returned; everything after
// subscription is best-effort. On shutdown the receiver stops first,
// then executors drain in-flight work and publish their replies.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.connectSub()
	if err != nil {
		return err
	}
	defer sub.Close()

	s.logBanner()

	// Bounded hand-off between the receiver and the executors. A full
	// queue blocks the receiver, pushing back on the subscriber socket
	// instead of dropping.
	queue := make(chan [2][]byte, s.cfg.Workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.executor(id, queue)
		}(i)
	}

	if s.cfg.AdminAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = observability.ServeOps(ctx, s.cfg.AdminAddr, "skillscale-node")
		}()
	}

	// Let the subscription propagate upstream before draining, so the
	// first publications are not filtered away at their source.
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
	}

	log.Info().Str("topic", s.cfg.Topic).Msg("listening for intents")
	s.receive(ctx, sub, queue)

	close(queue)
	wg.Wait()
	log.Info().Msg("node stopped")
	return nil
}

func (s *Service) connectSub() (*zmq.Socket, error) {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("node: sub socket: %w", err)
	}

	if err := sub.SetRcvhwm(s.cfg.HWM); err != nil {
		sub.Close()
		return nil, fmt.Errorf("node: sub hwm: %w", err)
	}
	_ = sub.SetTcpKeepalive(1)
	_ = sub.SetTcpKeepaliveIdle(60)
	_ = sub.SetHeartbeatIvl(heartbeatInterval)
	_ = sub.SetHeartbeatTimeout(3 * heartbeatInterval)
	_ = sub.SetHeartbeatTtl(3 * heartbeatInterval)
	_ = sub.SetReconnectIvl(100 * time.Millisecond)
	_ = sub.SetReconnectIvlMax(5 * time.Second)

	if err := sub.Connect(s.cfg.ProxyXPub); err != nil {
		sub.Close()
		return nil, fmt.Errorf("node: connect %s: %w", s.cfg.ProxyXPub, err)
	}
	if err := sub.SetSubscribe(s.cfg.Topic); err != nil {
		sub.Close()
		return nil, fmt.Errorf("node: subscribe %s: %w", s.cfg.Topic, err)
	}
	return sub, nil
}

// receive pulls two-frame messages off the subscriber socket and blocks
// on the queue when all executors are busy.
func (s *Service) receive(ctx context.Context, sub *zmq.Socket, queue chan<- [2][]byte) {
	poller := zmq.NewPoller()
	poller.Add(sub, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			log.Error().Err(err).Msg("receive poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := sub.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			continue
		}
		if len(parts) != 2 {
			log.Error().Int("frames", len(parts)).Msg("dropping message with unexpected frame count")
			continue
		}

		select {
		case queue <- [2][]byte{parts[0], parts[1]}:
		case <-ctx.Done():
			return
		}
	}
}

// executor owns one publisher socket for its lifetime; the transport
// forbids sharing sockets across threads. Shutdown is cooperative:
// the loop ends when the receiver closes the queue, after finishing
// whatever request is in hand.
func (s *Service) executor(id int, queue <-chan [2][]byte) {
	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		log.Error().Err(err).Int("executor", id).Msg("pub socket failed")
		return
	}
	defer pub.Close()

	if err := pub.SetSndhwm(s.cfg.HWM); err != nil {
		log.Error().Err(err).Int("executor", id).Msg("pub hwm failed")
	}
	_ = pub.SetLinger(time.Second)
	if err := pub.Connect(s.cfg.ProxyXSub); err != nil {
		log.Error().Err(err).Int("executor", id).Str("endpoint", s.cfg.ProxyXSub).Msg("pub connect failed")
		return
	}

	for msg := range queue {
		s.process(msg, pub)
	}
}

func (s *Service) logBanner() {
	log.Info().
		Str("topic", s.cfg.Topic).
		Str("description", s.cfg.Description).
		Str("skills_dir", s.cfg.SkillsDir).
		Str("proxy_xpub", s.cfg.ProxyXPub).
		Str("proxy_xsub", s.cfg.ProxyXSub).
		Int("hwm", s.cfg.HWM).
		Dur("timeout", s.cfg.ExecTimeout).
		Int("workers", s.cfg.Workers).
		Str("matcher", s.cfg.Matcher).
		Str("runner", s.cfg.Runner).
		Msg("skill node starting")

	for _, skill := range s.registry.List() {
		log.Info().Str("skill", skill.Name).Str("description", skill.Description).Msg("skill available")
	}
}
