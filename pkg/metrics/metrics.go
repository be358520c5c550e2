// Package metrics exposes Prometheus counters for the orchestration engine.
//
// Recorders are package-level and do nothing until Init has been called, so
// library code and tests can call them unconditionally.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoassist"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	initOnce sync.Once
	registry *prometheus.Registry

	completionCalls     *prometheus.CounterVec
	apiInvocations      *prometheus.CounterVec
	subtasks            *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	storeWriteFailures  prometheus.Counter
	websocketConnection prometheus.Gauge
)

// Init creates the registry and instruments. Safe to call multiple times.
func Init() {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		completionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Completion service calls by stage and outcome.",
		}, []string{"stage", "outcome"})
		apiInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_invocations_total",
			Help:      "External API invocations by config name and outcome.",
		}, []string{"api", "outcome"})
		subtasks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtasks_total",
			Help:      "Executed subtasks by outcome.",
		}, []string{"outcome"})
		transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "AutoAssist state machine transitions.",
		}, []string{"from", "to"})
		storeWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Assistant store writes that failed after the in-memory state changed.",
		})
		websocketConnection = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket feed connections.",
		})
		registry.MustRegister(
			completionCalls,
			apiInvocations,
			subtasks,
			transitions,
			storeWriteFailures,
			websocketConnection,
			collectors.NewGoCollector(),
		)
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// RecordCompletion counts one completion call for a stage such as "decompose".
func RecordCompletion(stage string, err error) {
	if completionCalls == nil {
		return
	}
	completionCalls.WithLabelValues(stage, outcome(err)).Inc()
}

// RecordAPIInvocation counts one external API call.
func RecordAPIInvocation(api string, success bool) {
	if apiInvocations == nil {
		return
	}
	o := OutcomeSuccess
	if !success {
		o = OutcomeFailure
	}
	apiInvocations.WithLabelValues(api, o).Inc()
}

// RecordSubtask counts one executed subtask.
func RecordSubtask(err error) {
	if subtasks == nil {
		return
	}
	subtasks.WithLabelValues(outcome(err)).Inc()
}

// RecordTransition counts a state machine transition.
func RecordTransition(from, to string) {
	if transitions == nil {
		return
	}
	transitions.WithLabelValues(from, to).Inc()
}

// RecordStoreWriteFailure counts a failed store write.
func RecordStoreWriteFailure() {
	if storeWriteFailures == nil {
		return
	}
	storeWriteFailures.Inc()
}

// AddWebsocketConnection adjusts the open websocket gauge by delta.
func AddWebsocketConnection(delta float64) {
	if websocketConnection == nil {
		return
	}
	websocketConnection.Add(delta)
}
