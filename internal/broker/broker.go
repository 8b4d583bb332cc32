// Package broker implements the XSUB/XPUB forwarder at the center of the
// star topology. Publications flow xsub→xpub; subscription frames flow
// xpub→xsub so publishers can filter at the source. Verbose subscription
// forwarding keeps duplicate subscriptions visible upstream, preserving a
// true reference count per topic.
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/skillscale/skillscale/internal/observability"
)

const pollInterval = 250 * time.Millisecond

// Config holds proxy socket bindings and tuning.
type Config struct {
	XSubBind    string
	XPubBind    string
	MetricsPort int
	HWM         int
	AdminAddr   string
}

func DefaultConfig() Config {
	return Config{
		XSubBind:    "tcp://*:5444",
		XPubBind:    "tcp://*:5555",
		MetricsPort: 9100,
		HWM:         50000,
	}
}

// Endpoints are the resolved socket addresses after binding; wildcard
// ports in the config are replaced with the actual assignments.
type Endpoints struct {
	XSub    string
	XPub    string
	Metrics string
}

// Proxy is the broker process state. The forwarded counter is written
// only by the proxy loop and read through Forwarded; the metrics
// responder renders the Prometheus counter incremented alongside it.
type Proxy struct {
	cfg       Config
	forwarded atomic.Uint64
	ready     chan struct{}
	endpoints Endpoints
}

func New(cfg Config) *Proxy {
	return &Proxy{cfg: cfg, ready: make(chan struct{})}
}

// Ready is closed once all sockets are bound.
func (p *Proxy) Ready() <-chan struct{} {
	return p.ready
}

// Endpoints reports the bound addresses. Valid after Ready.
func (p *Proxy) Endpoints() Endpoints {
	return p.endpoints
}

// Forwarded reports the number of publication frames relayed so far.
func (p *Proxy) Forwarded() uint64 {
	return p.forwarded.Load()
}

// Run binds both proxy sockets and the metrics responder, then forwards
// until ctx is canceled. Bind failures are fatal and returned; everything
// after a successful bind is best-effort.
func (p *Proxy) Run(ctx context.Context) error {
	xsub, err := p.bindSocket(zmq.XSUB, p.cfg.XSubBind)
	if err != nil {
		return fmt.Errorf("broker: bind xsub %s: %w", p.cfg.XSubBind, err)
	}
	defer xsub.Close()

	xpub, err := p.bindSocket(zmq.XPUB, p.cfg.XPubBind)
	if err != nil {
		return fmt.Errorf("broker: bind xpub %s: %w", p.cfg.XPubBind, err)
	}
	defer xpub.Close()

	metricsBind := fmt.Sprintf("tcp://*:%d", p.cfg.MetricsPort)
	if p.cfg.MetricsPort == 0 {
		metricsBind = "tcp://127.0.0.1:*"
	}
	rep, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return fmt.Errorf("broker: metrics socket: %w", err)
	}
	if err := rep.Bind(metricsBind); err != nil {
		rep.Close()
		return fmt.Errorf("broker: bind metrics %s: %w", metricsBind, err)
	}
	defer rep.Close()

	p.endpoints.XSub, _ = xsub.GetLastEndpoint()
	p.endpoints.XPub, _ = xpub.GetLastEndpoint()
	p.endpoints.Metrics, _ = rep.GetLastEndpoint()
	close(p.ready)

	log.Info().
		Str("xsub", p.endpoints.XSub).
		Str("xpub", p.endpoints.XPub).
		Str("metrics", p.endpoints.Metrics).
		Int("hwm", p.cfg.HWM).
		Msg("proxy sockets bound")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.metricsLoop(ctx, rep)
	}()

	if p.cfg.AdminAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = observability.ServeOps(ctx, p.cfg.AdminAddr, "skillscale-proxy")
		}()
	}

	p.proxyLoop(ctx, xsub, xpub)
	wg.Wait()

	log.Info().Uint64("forwarded", p.Forwarded()).Msg("proxy stopped")
	return nil
}

func (p *Proxy) bindSocket(kind zmq.Type, endpoint string) (*zmq.Socket, error) {
	sock, err := zmq.NewSocket(kind)
	if err != nil {
		return nil, err
	}
	if err := sock.SetRcvhwm(p.cfg.HWM); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetSndhwm(p.cfg.HWM); err != nil {
		sock.Close()
		return nil, err
	}
	if kind == zmq.XPUB {
		// Forward duplicate subscriptions instead of coalescing them, so
		// publishers see a true per-topic reference count.
		if err := sock.SetXpubVerbose(1); err != nil {
			sock.Close()
			return nil, err
		}
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}

// proxyLoop multiplexes both sockets with a short poll timeout so the
// shutdown flag is observed within one interval.
func (p *Proxy) proxyLoop(ctx context.Context, xsub, xpub *zmq.Socket) {
	poller := zmq.NewPoller()
	poller.Add(xsub, zmq.POLLIN)
	poller.Add(xpub, zmq.POLLIN)

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
			log.Error().Err(err).Msg("proxy poll failed")
			continue
		}

		for _, item := range polled {
			switch item.Socket {
			case xsub:
				p.pump(xsub, xpub, true)
			case xpub:
				p.pump(xpub, xsub, false)
			}
		}
	}
}

// pump drains one side to EAGAIN, re-emitting every frame on the other
// side with its more-bit carried. Sender ordering is preserved because a
// side is drained to completion before the loop switches back.
func (p *Proxy) pump(from, to *zmq.Socket, countFrames bool) {
	for {
		frame, err := from.RecvBytes(zmq.DONTWAIT)
		if err != nil {
			if zmq.AsErrno(err) != zmq.Errno(syscall.EAGAIN) {
				log.Error().Err(err).Msg("proxy recv failed")
			}
			return
		}

		more, err := from.GetRcvmore()
		if err != nil {
			log.Error().Err(err).Msg("proxy rcvmore failed")
			more = false
		}

		flags := zmq.Flag(0)
		if more {
			flags = zmq.SNDMORE
		}
		if _, err := to.SendBytes(frame, flags); err != nil {
			log.Error().Err(err).Msg("proxy send failed")
			return
		}

		if countFrames {
			p.forwarded.Add(1)
			observability.RecordForward()
		}
	}
}
