package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var counter *prometheus.CounterVec //nolint:gochecknoglobals

// PrometheusHook increments authsession_log_statements_total{level}.
type PrometheusHook struct{}

// Run implements zerolog.Hook.
func (PrometheusHook) Run(_ *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.NoLevel || counter == nil {
		return
	}

	counter.WithLabelValues(level.String()).Inc()
}

// NewPrometheusHook returns the hook. The counter is registered by the first
// call, whose service becomes its constant label.
func NewPrometheusHook(service string) PrometheusHook {
	if counter != nil {
		return PrometheusHook{}
	}

	counter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "authsession",
		Name:        "log_statements_total",
		Help:        "Log statements written, by level.",
		ConstLabels: prometheus.Labels{"service": service},
	}, []string{"level"})

	return PrometheusHook{}
}
