// Package metrics exposes Prometheus counters and gauges for the
// Ingress and Worker binaries — ambient observability carried alongside
// the core fabric regardless of which features are in scope for a given
// release.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_fabric_admissions_total",
		Help: "Total number of admission attempts at the Ingress API.",
	}, []string{"result"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_fabric_rejections_total",
		Help: "Total number of Ingress rejections, labeled by error code.",
	}, []string{"code"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_fabric_tasks_processed_total",
		Help: "Total number of tasks processed by the Worker Pool.",
	}, []string{"task_type", "outcome"})

	CallbacksDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_fabric_callbacks_total",
		Help: "Total number of terminal callback attempts, labeled by delivery outcome.",
	}, []string{"delivered"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xray_fabric_queue_depth",
		Help: "Current number of pending items in the Task Queue.",
	})
)
