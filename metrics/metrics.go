// Copyright 2015-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package metrics exposes the orchestrator's queue and worker state as
// Prometheus gauges via a periodic Observe loop over
// orchestrator.QueueStats.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/orchestrator"
)

var (
	queueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "queue_size",
		Help:      "Number of planets waiting in the pending-due index",
	})

	serversByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "servers",
		Help:      "Number of connected game servers by status",
	}, []string{"status"})

	planetsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "planets",
		Help:      "Number of planets by status",
	}, []string{"status"})

	sampleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "sample_seconds",
		Help:      "Seconds required to gather queue stats",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(queueSize, serversByStatus, planetsByStatus, sampleSeconds)
}

// Observe samples o.QueueStats every period until ctx is canceled.
func Observe(ctx context.Context, o *orchestrator.Orchestrator, period time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t0 := time.Now()
			stats, err := o.QueueStats()
			if err != nil {
				log.WithError(err).Warn("metrics: failed to sample queue stats")
				continue
			}
			sampleSeconds.Observe(time.Since(t0).Seconds())

			queueSize.Set(float64(stats.QueueSize))
			serversByStatus.WithLabelValues("idle").Set(float64(stats.IdleServers))
			serversByStatus.WithLabelValues("busy").Set(float64(stats.BusyServers))
			serversByStatus.WithLabelValues("offline").Set(float64(stats.OfflineServers))
			planetsByStatus.WithLabelValues("queued").Set(float64(stats.QueuedPlanets))
			planetsByStatus.WithLabelValues("processing").Set(float64(stats.ProcessingPlanets))
		}
	}
}
