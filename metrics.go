package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "turnchat",
		Name:      "connections_active",
		Help:      "Number of currently connected websocket clients.",
	})

	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnchat",
		Name:      "messages_total",
		Help:      "Total chat messages accepted.",
	})

	metricTurns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnchat",
		Name:      "turns_advanced_total",
		Help:      "Total turn changes.",
	})

	metricRejectedPosts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnchat",
		Name:      "posts_rejected_total",
		Help:      "Posts rejected for turn or quota violations.",
	})

	metricBadFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnchat",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped as malformed or unknown.",
	})

	metricSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnchat",
		Name:      "send_failures_total",
		Help:      "Clients dropped because their send buffer was full or their socket failed.",
	})
)
