// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executive

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("vizpipe.executive")
	meter  = otel.Meter("vizpipe.executive")
)

// pipelineMetrics holds the otel instruments of one pipeline.
type pipelineMetrics struct {
	once          sync.Once
	updateLatency metric.Float64Histogram
	nodeLatency   metric.Float64Histogram
	executions    metric.Int64Counter
	skips         metric.Int64Counter
	failures      metric.Int64Counter
}

// init lazily creates the instruments.
// Failures are logged and the affected instruments stay nil.
func (m *pipelineMetrics) init(logger *slog.Logger) {
	m.once.Do(func() {
		var initErrors []string

		var err error
		m.updateLatency, err = meter.Float64Histogram("vizpipe_update_duration_seconds",
			metric.WithDescription("Wall time of one pipeline update traversal"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "update_latency: "+err.Error())
		}

		m.nodeLatency, err = meter.Float64Histogram("vizpipe_node_duration_seconds",
			metric.WithDescription("Time spent in RequestData per node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		m.executions, err = meter.Int64Counter("vizpipe_node_executions_total",
			metric.WithDescription("Number of RequestData executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "executions: "+err.Error())
		}

		m.skips, err = meter.Int64Counter("vizpipe_node_skips_total",
			metric.WithDescription("Number of data passes skipped because outputs were current"),
		)
		if err != nil {
			initErrors = append(initErrors, "skips: "+err.Error())
		}

		m.failures, err = meter.Int64Counter("vizpipe_node_failures_total",
			metric.WithDescription("Number of failed or aborted node passes"),
		)
		if err != nil {
			initErrors = append(initErrors, "failures: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
