// Package metrics exports cache call outcomes as Prometheus counters.
package metrics

import (
	"github.com/goliatone/go-cacheable/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const anonymous = "anonymous"

// Collector counts wrapped calls by function and outcome. It implements
// cache.Observer and is meant to be passed to cache.WithObserver.
type Collector struct {
	calls  *prometheus.CounterVec
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
	logger *zap.Logger
}

var _ cache.Observer = (*Collector)(nil)

// NewCollector registers the counters on reg. A nil reg uses the default
// Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "calls_total",
				Help:      "Total number of memoized calls by outcome",
			},
			[]string{"fn", "outcome"},
		),
		hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of memoized calls served from the store",
			},
			[]string{"fn"},
		),
		misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of memoized calls that ran the function",
			},
			[]string{"fn"},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// Observe implements cache.Observer.
func (c *Collector) Observe(fn string, outcome cache.Outcome) {
	if fn == "" {
		fn = anonymous
	}
	c.calls.WithLabelValues(fn, string(outcome)).Inc()

	switch outcome {
	case cache.OutcomeHit:
		c.hits.WithLabelValues(fn).Inc()
	case cache.OutcomeMiss:
		c.misses.WithLabelValues(fn).Inc()
	case cache.OutcomeStoreError:
		c.logger.Debug("store error observed", zap.String("fn", fn))
	}
}
