// Prometheus instrumentation for the relay core.
//
// Label cardinality stays bounded: event types and outcomes are closed
// sets, never user input.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// inboundEvents counts webhook events by message type and outcome
	// (forwarded, duplicate, suppressed, dropped, unsupported).
	inboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_inbound_events_total",
			Help: "Inbound webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// outboundSends counts delivery attempts against the channel API.
	outboundSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbound_sends_total",
			Help: "Outbound channel API sends by result.",
		},
		[]string{"result"},
	)

	// queueDepth gauges items waiting in the delivery queue, the in-flight
	// head included.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_delivery_queue_depth",
			Help: "Payloads pending in the serialized delivery queue.",
		},
	)

	// attachmentOps counts attachment pipeline operations by direction and
	// result.
	attachmentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_attachment_ops_total",
			Help: "Attachment pipeline operations by direction and result.",
		},
		[]string{"direction", "result"},
	)
)

func init() {
	prometheus.MustRegister(inboundEvents, outboundSends, queueDepth, attachmentOps)
}
