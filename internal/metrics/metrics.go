// Package metrics holds the Prometheus collectors exported by the daemon.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaremote/internal/holdrepeat"
	"mediaremote/internal/stepper"
)

// Metrics groups every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Actions      *prometheus.CounterVec
	Steps        *prometheus.CounterVec
	Holds        *prometheus.CounterVec
	DeviceErrors *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaremote_actions_total",
			Help: "Actions dispatched to player controllers.",
		}, []string{"player", "action", "result"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaremote_steps_total",
			Help: "Step applications by the hold/click engine.",
		}, []string{"player", "direction", "exceeded"}),
		Holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaremote_holds_total",
			Help: "Completed hold gestures by stop reason.",
		}, []string{"player", "reason"}),
		DeviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaremote_device_errors_total",
			Help: "Failed device reads and commands.",
		}, []string{"player", "op"}),
	}
	m.Registry.MustRegister(
		m.Actions,
		m.Steps,
		m.Holds,
		m.DeviceErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ActionDone records the outcome of an action. A nil receiver is a no-op.
func (m *Metrics) ActionDone(player, action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Actions.WithLabelValues(player, action, result).Inc()
}

// DeviceError records a failed device operation. A nil receiver is a no-op.
func (m *Metrics) DeviceError(player, op string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(player, op).Inc()
}

// HoldObserver returns a holdrepeat.Observer that records into m for player.
// A nil receiver returns nil.
func (m *Metrics) HoldObserver(player string) holdrepeat.Observer {
	if m == nil {
		return nil
	}
	return &holdObserver{m: m, player: player}
}

type holdObserver struct {
	m      *Metrics
	player string
}

func (o *holdObserver) HoldStarted(stepper.Direction) {}

func (o *holdObserver) StepApplied(dir stepper.Direction, exceeded bool, err error) {
	if err != nil {
		return
	}
	o.m.Steps.WithLabelValues(o.player, dir.String(), strconv.FormatBool(exceeded)).Inc()
}

func (o *holdObserver) HoldStopped(reason holdrepeat.StopReason) {
	o.m.Holds.WithLabelValues(o.player, string(reason)).Inc()
}
