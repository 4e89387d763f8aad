package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals
var (
	refreshCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_refresh_total",
			Help: "Number of backend token refreshes, by outcome.",
		},
		[]string{"provider", "result"},
	)

	heartbeatCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_heartbeat_total",
			Help: "Number of session validity checks, by outcome.",
		},
		[]string{"provider", "result"},
	)

	logoutCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_logout_total",
			Help: "Number of ended sessions, by reason.",
		},
		[]string{"reason"},
	)
)

func outcome(ok bool) string {
	if ok {
		return "success"
	}

	return "failure"
}
