package persistence

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "strata"

	// MetricCommits counts tier commits by tier and result
	MetricCommits = "commits_total"
	// MetricCommitDuration observes tier commit latency
	MetricCommitDuration = "commit_duration_seconds"
	// MetricChains counts finished or rejected chains by
	// kind and result
	MetricChains = "chains_total"
	// MetricQueuedChains is the number of chains waiting for
	// the one in flight
	MetricQueuedChains = "queued_chains"

	resultSuccess  = "success"
	resultFailure  = "failure"
	resultNoop     = "noop"
	resultRejected = "rejected"
)

type metrics struct {
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	chains         *prometheus.CounterVec
	queuedChains   prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      MetricCommits,
				Help:      "Number of context commits by tier and result.",
			},
			[]string{"tier", "result"},
		),
		commitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      MetricCommitDuration,
				Help:      "Latency of context commits that had changes.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"tier"},
		),
		chains: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      MetricChains,
				Help:      "Number of propagation chains by kind and result.",
			},
			[]string{"kind", "result"},
		),
		queuedChains: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      MetricQueuedChains,
				Help:      "Number of propagation chains waiting to start.",
			},
		),
	}

	if registerer == nil {
		return m, nil
	}

	registered := []prometheus.Collector{}

	for _, collector := range []prometheus.Collector{m.commits, m.commitDuration, m.chains, m.queuedChains} {
		if err := registerer.Register(collector); err != nil {
			for _, c := range registered {
				registerer.Unregister(c)
			}

			return nil, err
		}

		registered = append(registered, collector)
	}

	return m, nil
}

func (m *metrics) observeCommit(tier Tier, hadChanges bool, started time.Time, err error) {
	switch {
	case err != nil:
		m.commits.WithLabelValues(string(tier), resultFailure).Inc()
	case !hadChanges:
		m.commits.WithLabelValues(string(tier), resultNoop).Inc()

		return
	default:
		m.commits.WithLabelValues(string(tier), resultSuccess).Inc()
	}

	m.commitDuration.WithLabelValues(string(tier)).Observe(time.Since(started).Seconds())
}

func (m *metrics) observeChain(kind string, err error) {
	if err != nil {
		m.chains.WithLabelValues(kind, resultFailure).Inc()

		return
	}

	m.chains.WithLabelValues(kind, resultSuccess).Inc()
}

func (m *metrics) rejectChain(kind string) {
	m.chains.WithLabelValues(kind, resultRejected).Inc()
}
