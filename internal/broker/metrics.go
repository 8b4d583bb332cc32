package broker

import (
	"context"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/skillscale/skillscale/internal/observability"
)

const metricsPollInterval = 500 * time.Millisecond

// metricsLoop answers every request on the REP socket with a Prometheus
// text snapshot. Request content is ignored.
func (p *Proxy) metricsLoop(ctx context.Context, rep *zmq.Socket) {
	poller := zmq.NewPoller()
	poller.Add(rep, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		polled, err := poller.Poll(metricsPollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			log.Error().Err(err).Msg("metrics poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		if _, err := rep.RecvMessageBytes(zmq.DONTWAIT); err != nil {
			continue
		}

		body, err := observability.RenderText()
		if err != nil {
			log.Error().Err(err).Msg("metrics render failed")
			body = ""
		}
		if _, err := rep.Send(body, 0); err != nil {
			log.Error().Err(err).Msg("metrics send failed")
		}
	}
}
