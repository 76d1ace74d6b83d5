package canmon

import "github.com/prometheus/client_golang/prometheus"

var (
	framesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canmon_frames_received_total",
		Help: "Frames read off the bus, per interface.",
	}, []string{"interface"})

	interfaceRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canmon_interface_restarts_total",
		Help: "Recovery restarts performed on an interface.",
	}, []string{"interface"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canmon_queue_depth",
		Help: "Frames waiting in the shared queue.",
	})

	messagesDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canmon_messages_decoded_total",
		Help: "Decoded messages, per CANopen function code.",
	}, []string{"type"})

	protocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canmon_protocol_errors_total",
		Help: "Malformed or out of sequence protocol data events.",
	})
)

func init() {
	prometheus.MustRegister(
		framesReceived,
		interfaceRestarts,
		queueDepth,
		messagesDecoded,
		protocolErrors,
	)
}
