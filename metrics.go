package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registerDecodeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plcreg_register_decode_total",
		Help: "Register words decoded, partitioned by register and result.",
	}, []string{"register", "result"})
	registerEncodeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plcreg_register_encode_total",
		Help: "Register words encoded, partitioned by register and result.",
	}, []string{"register", "result"})
	opcuaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plcreg_opcua_request_seconds",
		Help:    "Latency of OPC UA requests issued by the service.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"op"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// timeOPCUA starts a latency observation for op; call the returned func when done.
func timeOPCUA(op string) func() {
	timer := prometheus.NewTimer(opcuaRequestDuration.WithLabelValues(op))
	return func() { timer.ObserveDuration() }
}
