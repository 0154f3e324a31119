// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_bus_published_total",
		Help: "Total number of messages published on the in-memory bus by topic class",
	}, []string{"topic"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_bus_dropped_total",
		Help: "Total number of in-memory bus publishes abandoned by topic class and reason",
	}, []string{"topic", "reason"})

	BusSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playerd_bus_subscribers",
		Help: "Current number of bus subscribers by topic class",
	}, []string{"topic"})

	BusMailboxHighWater = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playerd_bus_mailbox_high_water",
		Help: "Largest observed pending-message backlog of a single subscriber by topic class",
	}, []string{"topic"})
)

func normalizeTopic(topic string) string {
	if topic == "" {
		return "unknown"
	}
	return topic
}

// IncBusPublished records a message handed to the bus.
func IncBusPublished(topic string) {
	BusPublishedTotal.WithLabelValues(normalizeTopic(topic)).Inc()
}

// IncBusDropReason records an abandoned publish with a concrete reason.
func IncBusDropReason(topic, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(normalizeTopic(topic), reason).Inc()
}

// AddBusSubscribers adjusts the subscriber gauge for a topic class.
func AddBusSubscribers(topic string, delta float64) {
	BusSubscribers.WithLabelValues(normalizeTopic(topic)).Add(delta)
}

// ObserveMailboxDepth raises the high-water gauge when depth exceeds it.
func ObserveMailboxDepth(topic string, depth int) {
	g := BusMailboxHighWater.WithLabelValues(normalizeTopic(topic))
	if float64(depth) > gaugeValue(g) {
		g.Set(float64(depth))
	}
}
