/*
Copyright 2024 The Boink Authors.

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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelVersion   = "version"
	LabelPlatform  = "platform"
	LabelNamespace = "ns"
	LabelAction    = "action"
	LabelResult    = "result"
	LabelStatus    = "status"
	LabelSchedule  = "schedule"
)

// Values of LabelResult.
const (
	ResultApplied     = "applied"
	ResultNotFound    = "not_found"
	ResultRejected    = "rejected"
	ResultDecodeError = "decode_error"
	ResultFailed      = "failed"
	ResultSkipped     = "skipped"
)

// Values of LabelStatus.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "boink",
		Name:      "build_info",
		Help:      "A metric with a constant value '1', labeled by boink binary version and platform",
	}, []string{LabelVersion, LabelPlatform})

	// WorkloadsReconciled counts the per workload results of reconciliation runs.
	WorkloadsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boink",
		Subsystem: "reconcile",
		Name:      "workloads_total",
		Help:      "Total number of workloads processed, labeled by result",
	}, []string{LabelNamespace, LabelAction, LabelResult})

	// ReconcileRuns counts reconciliation runs by their overall status.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boink",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Total number of reconciliation runs, labeled by status",
	}, []string{LabelNamespace, LabelAction, LabelStatus})

	ReconcileRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "boink",
		Subsystem: "reconcile",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{LabelNamespace, LabelAction})

	// ScheduleSkipped counts scheduled runs skipped because the previous run of the same rule was still in progress.
	ScheduleSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boink",
		Subsystem: "schedule",
		Name:      "skipped_total",
		Help:      "Total number of scheduled runs skipped while the previous run was in progress",
	}, []string{LabelSchedule, LabelAction})
)
