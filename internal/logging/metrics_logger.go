package logging

import (
	"log/slog"
	"time"
)

// MetricsLogger writes metric samples as structured log records.
type MetricsLogger struct {
	logger *Logger
}

// NewMetricsLogger returns a MetricsLogger scoped to the "metrics" component.
func NewMetricsLogger(logger *Logger) *MetricsLogger {
	return &MetricsLogger{
		logger: logger.WithComponent("metrics"),
	}
}

func (ml *MetricsLogger) log(msg, kind, name string, value interface{}, labels map[string]string) {
	attrs := make([]interface{}, 0, 3+len(labels))
	attrs = append(attrs,
		slog.String("metric_type", kind),
		slog.String("metric_name", name),
		slog.Any("value", value),
	)

	for k, v := range labels {
		attrs = append(attrs, slog.String("label_"+k, v))
	}

	ml.logger.Info(msg, attrs...)
}

// LogCounter logs a counter metric
func (ml *MetricsLogger) LogCounter(name string, value int64, labels map[string]string) {
	ml.log("counter metric", "counter", name, value, labels)
}

// LogGauge logs a gauge metric
func (ml *MetricsLogger) LogGauge(name string, value float64, labels map[string]string) {
	ml.log("gauge metric", "gauge", name, value, labels)
}

// LogHistogram logs a histogram metric
func (ml *MetricsLogger) LogHistogram(name string, value float64, labels map[string]string) {
	ml.log("histogram metric", "histogram", name, value, labels)
}

// LogTiming logs timing information
func (ml *MetricsLogger) LogTiming(name string, duration time.Duration, labels map[string]string) {
	ml.log("timing metric", "timing", name, duration.Milliseconds(), labels)
}

// PerformanceTracker times one operation.
type PerformanceTracker struct {
	startTime time.Time
	logger    *MetricsLogger
	labels    map[string]string
	operation string
}

// StartTracking begins performance tracking for an operation
func (ml *MetricsLogger) StartTracking(operation string, labels map[string]string) *PerformanceTracker {
	return &PerformanceTracker{
		logger:    ml,
		startTime: time.Now(),
		operation: operation,
		labels:    labels,
	}
}

// Finish logs and returns the elapsed time.
func (pt *PerformanceTracker) Finish() time.Duration {
	return pt.FinishWithError(nil)
}

// FinishWithError logs the elapsed time with an error label.
func (pt *PerformanceTracker) FinishWithError(err error) time.Duration {
	duration := time.Since(pt.startTime)

	labels := make(map[string]string, len(pt.labels)+2)
	for k, v := range pt.labels {
		labels[k] = v
	}

	if err != nil {
		labels["error"] = "true"
		labels["error_message"] = err.Error()
	} else {
		labels["error"] = "false"
	}

	pt.logger.LogTiming(pt.operation, duration, labels)

	return duration
}
