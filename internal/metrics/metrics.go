// Package metrics holds Prometheus instruments that are used across
// door-commander.  All collectors are registered with the global registry,
// so importing this package in main.go is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamhaus/doorcommander/internal/config"
)

var (
	FeatureEnabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "door_commander_feature_enabled",
			Help: "1 when the settings feature group loaded, 0 when it was disabled.",
		}, []string{"feature"})

	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "door_commander_task_runs_total",
			Help: "Cumulative number of periodic task runs.",
		}, []string{"task"})

	TaskFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "door_commander_task_failures_total",
			Help: "Cumulative number of periodic task runs that returned an error.",
		}, []string{"task"})

	OIDCLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "door_commander_oidc_logins_total",
			Help: "OpenID Connect callbacks by result.",
		}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		FeatureEnabled,
		TaskRunsTotal,
		TaskFailuresTotal,
		OIDCLoginsTotal,
	)
}

// RecordFeatures publishes the state of every feature group.
func RecordFeatures(s *config.Settings) {
	for _, f := range s.Features() {
		v := 0.0
		if f.Enabled {
			v = 1
		}
		FeatureEnabled.WithLabelValues(f.Name).Set(v)
	}
}
