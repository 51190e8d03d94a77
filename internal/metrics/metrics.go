package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	Viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rover_viewers",
		Help: "Number of registered viewer connections",
	})
	PeerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rover_peer_connection_state",
		Help: "Last connection state reported by the media engine (0=new .. 5=closed)",
	})
	CycleState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rover_negotiation_cycle_state",
		Help: "Negotiation cycle state (0=idle, 1=negotiating, 2=ready)",
	})
)

// Counters
var (
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_broadcast_sends_total",
		Help: "Per-viewer sends of offers and candidates by outcome",
	}, []string{"outcome"})
	ViewersKickedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_viewers_kicked_total",
		Help: "Viewers removed after a failed send",
	})
	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_parse_errors_total",
		Help: "Malformed inbound viewer messages",
	})
	NegotiationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_negotiation_errors_total",
		Help: "Remote answers or candidates rejected by the media engine",
	})
	ControlPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_control_publishes_total",
		Help: "Control bus publishes by outcome",
	}, []string{"outcome"})
	ControlStaleTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rover_control_stale_ticks_total",
		Help: "Publish ticks that substituted the neutral command",
	})
	ProbeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_mqtt_probe_results_total",
		Help: "MQTT connectivity probes by outcome",
	}, []string{"outcome"})
	RTPPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rover_rtp_packets_total",
		Help: "RTP datagrams received from the encoder, by outcome",
	}, []string{"outcome"})
)
