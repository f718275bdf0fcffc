package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStreamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "streams_started_total",
		Help:      "Conversation turns started.",
	})
	metricStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "backchannel",
		Name:      "streams_active",
		Help:      "Conversation turns currently streaming.",
	})
	metricStreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "stream_chunks_total",
		Help:      "Text chunks yielded across all streams.",
	})
	metricStreamTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "stream_timeouts_total",
		Help:      "Streams that ended because no data arrived before the timeout.",
	})
	metricStreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "stream_failures_total",
		Help:      "Streams that ended on an undecodable mailbox payload.",
	})
	metricAssemblerPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "assembler_polls_total",
		Help:      "DOM mailbox poll ticks.",
	})
	metricSessionRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "session_refreshes_total",
		Help:      "Session refresh attempts.",
	})
	metricAPIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backchannel",
		Name:      "api_requests_total",
		Help:      "One-shot backend API requests by endpoint.",
	}, []string{"endpoint"})
	metricStreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "backchannel",
		Name:      "stream_duration_seconds",
		Help:      "Wall time of a conversation turn from injection to terminal state.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})
)

// RecordStreamStarted marks a new conversation turn.
func RecordStreamStarted() {
	metricStreamsStarted.Inc()
	metricStreamsActive.Inc()
}

// RecordStreamChunk counts one yielded chunk.
func RecordStreamChunk() {
	metricStreamChunks.Inc()
}

// RecordStreamCompleted marks a turn that reached end-of-stream.
func RecordStreamCompleted(duration time.Duration) {
	metricStreamsActive.Dec()
	metricStreamDuration.Observe(duration.Seconds())
}

// RecordStreamTimedOut marks a turn that ended on the poll timeout.
func RecordStreamTimedOut(duration time.Duration) {
	metricStreamsActive.Dec()
	metricStreamTimeouts.Inc()
	metricStreamDuration.Observe(duration.Seconds())
}

// RecordStreamFailed marks a turn that ended on a corrupt payload.
func RecordStreamFailed(duration time.Duration) {
	metricStreamsActive.Dec()
	metricStreamFailures.Inc()
	metricStreamDuration.Observe(duration.Seconds())
}

// RecordAssemblerPoll counts one mailbox poll tick.
func RecordAssemblerPoll() {
	metricAssemblerPolls.Inc()
}

// RecordSessionRefresh counts one session refresh attempt.
func RecordSessionRefresh() {
	metricSessionRefreshes.Inc()
}

// RecordAPIRequest counts a one-shot backend request by endpoint name.
func RecordAPIRequest(endpoint string) {
	metricAPIRequests.WithLabelValues(endpoint).Inc()
}
