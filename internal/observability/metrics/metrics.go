package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "hubcore_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	messagesTotal *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	consumerLag   *prometheus.GaugeVec
	commitsTotal  *prometheus.CounterVec
	pollErrors    *prometheus.CounterVec

	snapshotUpdates prometheus.Counter
	snapshotDrops   *prometheus.CounterVec
	snapshotPublish *prometheus.CounterVec

	topologyEvents *prometheus.CounterVec
	danglingRefs   *prometheus.CounterVec

	scenarioEvaluations *prometheus.CounterVec
	dispatchTotal       *prometheus.CounterVec
	dispatchLatency     *prometheus.HistogramVec
)

// Init registers metrics with the default registerer. Safe to call more than once.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers metrics with reg. Only the first call has an effect.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		messagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_messages_total",
				Help: "Total stream messages by stream and result",
			},
			[]string{"stream", "result"},
		)
		batchSize = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stream_batch_size",
				Help:    "Messages returned per poll",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
			},
			[]string{"stream"},
		)
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_consumer_lag_seconds",
				Help: "Age of the newest processed message in seconds",
			},
			[]string{"stream"},
		)
		commitsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_commits_total",
				Help: "Total position commits by stream, mode and result",
			},
			[]string{"stream", "mode", "result"},
		)
		pollErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_poll_errors_total",
				Help: "Total poll errors by stream",
			},
			[]string{"stream"},
		)

		snapshotUpdates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_updates_total",
				Help: "Total hub snapshot updates emitted",
			},
		)
		snapshotDrops = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_drops_total",
				Help: "Total sensor events not applied by reason",
			},
			[]string{"reason"},
		)
		snapshotPublish = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_publish_total",
				Help: "Total snapshot publishes by sink and result",
			},
			[]string{"sink", "result"},
		)

		topologyEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "topology_events_total",
				Help: "Total hub topology events by kind and result",
			},
			[]string{"kind", "result"},
		)
		danglingRefs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "topology_dangling_refs_total",
				Help: "Scenario references dropped because the sensor is unknown",
			},
			[]string{"ref"},
		)

		scenarioEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scenario_evaluations_total",
				Help: "Total scenario evaluations by outcome",
			},
			[]string{"outcome"},
		)
		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "action_dispatch_total",
				Help: "Total actuator dispatches by transport and result",
			},
			[]string{"transport", "result"},
		)
		dispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "action_dispatch_latency_seconds",
				Help:    "Actuator dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport", "result"},
		)

		if reg == nil {
			return
		}
		reg.MustRegister(
			messagesTotal,
			batchSize,
			consumerLag,
			commitsTotal,
			pollErrors,
			snapshotUpdates,
			snapshotDrops,
			snapshotPublish,
			topologyEvents,
			danglingRefs,
			scenarioEvaluations,
			dispatchTotal,
			dispatchLatency,
		)
	})
}

// IncMessage counts one processed stream message.
func IncMessage(stream, result string) {
	if result == "" {
		result = resultSuccess
	}
	if messagesTotal != nil {
		messagesTotal.WithLabelValues(label(stream), result).Inc()
	}
}

// ObserveBatch records the size of a polled batch.
func ObserveBatch(stream string, size int) {
	if batchSize != nil {
		batchSize.WithLabelValues(label(stream)).Observe(float64(size))
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(stream string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(label(stream)).Set(lag.Seconds())
	}
}

// IncCommit counts a commit attempt. mode is "async" or "sync".
func IncCommit(stream, mode string, err error) {
	if commitsTotal != nil {
		commitsTotal.WithLabelValues(label(stream), mode, resultOf(err)).Inc()
	}
}

// IncPollError counts a failed poll.
func IncPollError(stream string) {
	if pollErrors != nil {
		pollErrors.WithLabelValues(label(stream)).Inc()
	}
}

// IncSnapshotUpdate counts an emitted snapshot.
func IncSnapshotUpdate() {
	if snapshotUpdates != nil {
		snapshotUpdates.Inc()
	}
}

// IncSnapshotDrop counts a rejected sensor event.
func IncSnapshotDrop(reason string) {
	if snapshotDrops != nil {
		snapshotDrops.WithLabelValues(label(reason)).Inc()
	}
}

// IncSnapshotPublish counts a snapshot publish to a sink.
func IncSnapshotPublish(sink string, err error) {
	if snapshotPublish != nil {
		snapshotPublish.WithLabelValues(label(sink), resultOf(err)).Inc()
	}
}

// IncTopologyEvent counts an applied hub event.
func IncTopologyEvent(kind string, err error) {
	if topologyEvents != nil {
		topologyEvents.WithLabelValues(label(kind), resultOf(err)).Inc()
	}
}

// IncDanglingRef counts a dropped scenario reference. ref is "condition" or "action".
func IncDanglingRef(ref string) {
	if danglingRefs != nil {
		danglingRefs.WithLabelValues(label(ref)).Inc()
	}
}

// IncScenarioEvaluation counts a scenario evaluation outcome.
func IncScenarioEvaluation(outcome string) {
	if scenarioEvaluations != nil {
		scenarioEvaluations.WithLabelValues(label(outcome)).Inc()
	}
}

// ObserveDispatch records dispatch latency and result.
func ObserveDispatch(transport string, err error, duration time.Duration) {
	result := resultOf(err)
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(label(transport), result).Inc()
	}
	if dispatchLatency != nil {
		dispatchLatency.WithLabelValues(label(transport), result).Observe(duration.Seconds())
	}
}

func resultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped

	DropStale     = "stale"
	DropDuplicate = "duplicate"

	OutcomeFired       = "fired"
	OutcomeNotMet      = "not_met"
	OutcomeNoCondition = "no_conditions"
)
