package observability

import (
	"bytes"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	proxyMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skillscale",
			Subsystem: "proxy",
			Name:      "messages_total",
			Help:      "Total messages forwarded",
		},
	)
	nodeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillscale",
			Subsystem: "node",
			Name:      "requests_total",
			Help:      "Intent requests processed by this node.",
		},
		[]string{"topic", "status"},
	)
	skillDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skillscale",
			Subsystem: "node",
			Name:      "skill_duration_seconds",
			Help:      "Skill execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic", "skill"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		registry.MustRegister(proxyMessages, nodeRequests, skillDuration)
	})
}

// Registry exposes the process metric registry for HTTP handlers.
func Registry() *prometheus.Registry {
	RegisterMetrics()
	return registry
}

// RecordForward counts one publication frame relayed by the proxy.
func RecordForward() {
	RegisterMetrics()
	proxyMessages.Inc()
}

func RecordRequest(topic, status string) {
	RegisterMetrics()
	nodeRequests.WithLabelValues(topic, status).Inc()
}

func ObserveSkillDuration(topic, skill string, duration time.Duration) {
	RegisterMetrics()
	skillDuration.WithLabelValues(topic, skill).Observe(duration.Seconds())
}

// RenderText gathers the registry into the Prometheus text exposition
// format, the body served from the proxy's REP metrics socket.
func RenderText() (string, error) {
	RegisterMetrics()

	families, err := registry.Gather()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
