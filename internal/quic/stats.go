// Copyright 2024 The quiccore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds the counters a Conn maintains for observability (spec
// §5, "per-connection counters exposed for the Stats block"). Fields
// are updated with atomic operations so they can be read from outside
// the connection's own goroutine without synchronizing with the event
// loop.
type Stats struct {
	PacketsSent     atomic.Int64
	PacketsReceived atomic.Int64
	BytesSent       atomic.Int64
	BytesReceived   atomic.Int64
	PacketsLost     atomic.Int64
	PTOCount        atomic.Int64
	KeyUpdates      atomic.Int64
	PathMigrations  atomic.Int64
}

// connMetrics are the process-wide Prometheus collectors every Conn
// reports into. They're registered once at package init, matching the
// single-registry pattern used by prometheus/client_golang consumers.
var connMetrics = struct {
	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsLost     prometheus.Counter
	ptoEvents       prometheus.Counter
	connsActive     prometheus.Gauge
}{
	packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiccore",
		Name:      "packets_sent_total",
		Help:      "Total QUIC packets sent across all connections.",
	}),
	packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiccore",
		Name:      "packets_received_total",
		Help:      "Total QUIC packets received across all connections.",
	}),
	bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiccore",
		Name:      "bytes_sent_total",
		Help:      "Total bytes sent across all connections.",
	}),
	bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiccore",
		Name:      "bytes_received_total",
		Help:      "Total bytes received across all connections.",
	}),
	packetsLost: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiccore",
		Name:      "packets_lost_total",
		Help:      "Total packets declared lost across all connections.",
	}),
	ptoEvents: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiccore",
		Name:      "pto_events_total",
		Help:      "Total probe timeout expirations across all connections.",
	}),
	connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiccore",
		Name:      "connections_active",
		Help:      "Number of QUIC connections currently open.",
	}),
}

func init() {
	prometheus.MustRegister(
		connMetrics.packetsSent,
		connMetrics.packetsReceived,
		connMetrics.bytesSent,
		connMetrics.bytesReceived,
		connMetrics.packetsLost,
		connMetrics.ptoEvents,
		connMetrics.connsActive,
	)
}

func (s *Stats) recordSent(size int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(size))
	connMetrics.packetsSent.Inc()
	connMetrics.bytesSent.Add(float64(size))
}

func (s *Stats) recordReceived(size int) {
	s.PacketsReceived.Add(1)
	s.BytesReceived.Add(int64(size))
	connMetrics.packetsReceived.Inc()
	connMetrics.bytesReceived.Add(float64(size))
}

func (s *Stats) recordLost(n int) {
	s.PacketsLost.Add(int64(n))
	connMetrics.packetsLost.Add(float64(n))
}

func (s *Stats) recordPTO() {
	s.PTOCount.Add(1)
	connMetrics.ptoEvents.Inc()
}
