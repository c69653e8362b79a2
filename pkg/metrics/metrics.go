/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes operator metrics on the manager's metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconcileTotal = promauto.With(crmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "takahe_operator_reconcile_total",
			Help: "Number of reconciliations by resulting phase.",
		},
		[]string{"phase"},
	)

	reconcileDuration = promauto.With(crmetrics.Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "takahe_operator_reconcile_duration_seconds",
			Help:    "Duration of reconciliations.",
			Buckets: prometheus.DefBuckets,
		},
	)

	migrationJobsTotal = promauto.With(crmetrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "takahe_operator_migration_jobs_total",
			Help: "Number of database migration Jobs created.",
		},
	)

	keyRotationsTotal = promauto.With(crmetrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "takahe_operator_key_rotations_total",
			Help: "Number of server secret key rotations performed.",
		},
	)
)

// ObserveReconcile records one reconciliation outcome.
func ObserveReconcile(phase string, duration time.Duration) {
	reconcileTotal.WithLabelValues(phase).Inc()
	reconcileDuration.Observe(duration.Seconds())
}

// RecordMigrationJob counts a created migration Job.
func RecordMigrationJob() {
	migrationJobsTotal.Inc()
}

// RecordKeyRotation counts a performed server key rotation.
func RecordKeyRotation() {
	keyRotationsTotal.Inc()
}
