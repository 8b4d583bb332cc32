// Package client is the requester side of the fabric: it publishes
// intents into the proxy and correlates replies by request_id on a
// private reply topic.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/skillscale/skillscale/internal/envelope"
)

const pollInterval = 250 * time.Millisecond

var (
	ErrTimeout = errors.New("client: request timed out")
	ErrClosed  = errors.New("client: closed")
)

// Config tunes the client connection. Zero values take the defaults.
type Config struct {
	ProxyXSub  string
	ProxyXPub  string
	HWM        int
	Timeout    time.Duration
	Settle     time.Duration
	ReplyTopic string
}

func DefaultConfig() Config {
	return Config{
		ProxyXSub: "tcp://127.0.0.1:5444",
		ProxyXPub: "tcp://127.0.0.1:5555",
		HWM:       10000,
		Timeout:   30 * time.Second,
		Settle:    500 * time.Millisecond,
	}
}

// Client owns one publisher and one subscriber socket. The publisher is
// used only from callers serialized by mu; the subscriber only from the
// receive loop. No reply is guaranteed; the per-request timeout is the
// only recovery.
type Client struct {
	cfg Config
	pub *zmq.Socket
	sub *zmq.Socket

	mu      sync.Mutex
	pending map[string]chan envelope.Reply
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Connect dials the proxy, subscribes to the generated reply topic, and
// starts the receive loop. It waits out the settle delay before returning
// so the subscription reaches all publishers before the first request.
func Connect(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.ProxyXSub == "" {
		cfg.ProxyXSub = def.ProxyXSub
	}
	if cfg.ProxyXPub == "" {
		cfg.ProxyXPub = def.ProxyXPub
	}
	if cfg.HWM == 0 {
		cfg.HWM = def.HWM
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Settle == 0 {
		cfg.Settle = def.Settle
	}
	if cfg.ReplyTopic == "" {
		cfg.ReplyTopic = "AGENT_REPLY_" + uuid.NewString()[:8]
	}

	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("client: pub socket: %w", err)
	}
	if err := pub.SetSndhwm(cfg.HWM); err != nil {
		pub.Close()
		return nil, fmt.Errorf("client: pub hwm: %w", err)
	}
	_ = pub.SetLinger(time.Second)
	if err := pub.Connect(cfg.ProxyXSub); err != nil {
		pub.Close()
		return nil, fmt.Errorf("client: connect %s: %w", cfg.ProxyXSub, err)
	}

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("client: sub socket: %w", err)
	}
	if err := sub.SetRcvhwm(cfg.HWM); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("client: sub hwm: %w", err)
	}
	if err := sub.Connect(cfg.ProxyXPub); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("client: connect %s: %w", cfg.ProxyXPub, err)
	}
	if err := sub.SetSubscribe(cfg.ReplyTopic); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("client: subscribe %s: %w", cfg.ReplyTopic, err)
	}

	c := &Client{
		cfg:     cfg,
		pub:     pub,
		sub:     sub,
		pending: make(map[string]chan envelope.Reply),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.receive()
	}()

	time.Sleep(cfg.Settle)
	return c, nil
}

// ReplyTopic reports the topic this client listens on for replies.
func (c *Client) ReplyTopic() string {
	return c.cfg.ReplyTopic
}

// Request publishes one intent to topic and waits for the correlated
// reply. The per-call timeout falls back to the configured default.
func (c *Client) Request(ctx context.Context, topic, intent string, timeout time.Duration) (envelope.Reply, error) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	requestID := uuid.NewString()
	ch := make(chan envelope.Reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return envelope.Reply{}, ErrClosed
	}
	c.pending[requestID] = ch

	topicFrame, payload, err := envelope.SerializeRequest(envelope.Request{
		Topic:     topic,
		RequestID: requestID,
		ReplyTo:   c.cfg.ReplyTopic,
		Intent:    intent,
	})
	if err == nil {
		if _, serr := c.pub.SendBytes(topicFrame, zmq.SNDMORE); serr != nil {
			err = serr
		} else if _, serr := c.pub.SendBytes(payload, 0); serr != nil {
			err = serr
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.forget(requestID)
		return envelope.Reply{}, fmt.Errorf("client: publish request: %w", err)
	}

	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		c.forget(requestID)
		return envelope.Reply{}, ctx.Err()
	case <-time.After(timeout):
		c.forget(requestID)
		return envelope.Reply{}, fmt.Errorf("%w after %s (request_id=%s)", ErrTimeout, timeout, requestID)
	}
}

// Close stops the receive loop and releases both sockets. Outstanding
// requests fail with their timeouts.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	c.pub.Close()
	c.sub.Close()
	return nil
}

func (c *Client) receive() {
	poller := zmq.NewPoller()
	poller.Add(c.sub, zmq.POLLIN)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			log.Error().Err(err).Msg("client poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := c.sub.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil || len(parts) != 2 {
			continue
		}

		rep, err := envelope.ParseReply(parts[0], parts[1])
		if err != nil {
			log.Debug().Err(err).Msg("dropping unparseable reply")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[rep.RequestID]
		if ok {
			delete(c.pending, rep.RequestID)
		}
		c.mu.Unlock()

		if ok {
			ch <- rep
		}
	}
}

func (c *Client) forget(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}
