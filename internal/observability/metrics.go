// Package observability keeps in-process counters and health checks for the
// daemon and periodically writes them to the log.
package observability

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
)

// MetricType is how a metric is aggregated.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is one series keyed by name and labels.
type Metric struct {
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Unit      string            `json:"unit,omitempty"`
	Value     float64           `json:"value"`
}

func (m *Metric) clone() *Metric {
	c := *m
	if m.Labels != nil {
		c.Labels = make(map[string]string, len(m.Labels))
		for k, v := range m.Labels {
			c.Labels[k] = v
		}
	}

	return &c
}

// MetricsCollector holds metrics in memory and periodically writes them to
// the log.
type MetricsCollector struct {
	ctx           context.Context
	logger        *logging.MetricsLogger
	metrics       map[string]*Metric
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	flushInterval time.Duration
	mu            sync.RWMutex
}

// NewMetricsCollector creates a collector that logs every metric once per
// flushInterval. A non-positive interval disables periodic flushing.
func NewMetricsCollector(logger *logging.Logger, flushInterval time.Duration) *MetricsCollector {
	ctx, cancel := context.WithCancel(context.Background())

	mc := &MetricsCollector{
		logger:        logging.NewMetricsLogger(logger),
		metrics:       make(map[string]*Metric),
		flushInterval: flushInterval,
		ctx:           ctx,
		cancel:        cancel,
	}

	if flushInterval > 0 {
		mc.wg.Add(1)
		go mc.flushLoop()
	}

	return mc
}

// IncCounter adds one.
func (mc *MetricsCollector) IncCounter(name string, labels map[string]string) {
	mc.AddCounter(name, 1, labels)
}

// AddCounter adds value to the counter for name and labels.
func (mc *MetricsCollector) AddCounter(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		metric.Value += value
		metric.Timestamp = time.Now()

		return
	}

	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      MetricTypeCounter,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// SetGauge replaces the gauge value.
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.SetGaugeWithUnit(name, value, labels, "")
}

func (mc *MetricsCollector) SetGaugeWithUnit(name string, value float64, labels map[string]string, unit string) {
	mc.set(name, MetricTypeGauge, value, labels, unit)
}

// ObserveHistogram records the latest observation of a histogram metric.
func (mc *MetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	mc.set(name, MetricTypeHistogram, value, labels, "")
}

// RecordDuration records a duration in seconds as a histogram metric
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	mc.set(name, MetricTypeHistogram, duration.Seconds(), labels, "seconds")
}

func (mc *MetricsCollector) set(name string, typ MetricType, value float64, labels map[string]string, unit string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics[metricKey(name, labels)] = &Metric{
		Name:      name,
		Type:      typ,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
		Unit:      unit,
	}
}

// Value returns the current value of one metric series.
func (mc *MetricsCollector) Value(name string, labels map[string]string) (float64, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	m, ok := mc.metrics[metricKey(name, labels)]
	if !ok {
		return 0, false
	}

	return m.Value, true
}

// GetMetrics returns a snapshot of all current metrics keyed by series.
func (mc *MetricsCollector) GetMetrics() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		snapshot[k] = v.clone()
	}

	return snapshot
}

// Snapshot returns every metric sorted by series key.
func (mc *MetricsCollector) Snapshot() []*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	keys := make([]string, 0, len(mc.metrics))
	for k := range mc.metrics {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]*Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, mc.metrics[k].clone())
	}

	return out
}

// GetMetricsByType returns the metrics of one kind, in no particular order.
func (mc *MetricsCollector) GetMetricsByType(metricType MetricType) []*Metric {
	var filtered []*Metric

	for _, metric := range mc.Snapshot() {
		if metric.Type == metricType {
			filtered = append(filtered, metric)
		}
	}

	return filtered
}

// Reset drops every series.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Close stops the flush loop after one final flush.
func (mc *MetricsCollector) Close() {
	mc.cancel()
	mc.wg.Wait()
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteString(name)

	for _, k := range keys {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}

	return b.String()
}

func (mc *MetricsCollector) flushLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.ctx.Done():
			mc.flushMetrics()
			return
		case <-ticker.C:
			mc.flushMetrics()
		}
	}
}

func (mc *MetricsCollector) flushMetrics() {
	for _, metric := range mc.Snapshot() {
		switch metric.Type {
		case MetricTypeCounter:
			mc.logger.LogCounter(metric.Name, int64(metric.Value), metric.Labels)
		case MetricTypeGauge:
			mc.logger.LogGauge(metric.Name, metric.Value, metric.Labels)
		case MetricTypeHistogram:
			mc.logger.LogHistogram(metric.Name, metric.Value, metric.Labels)
		}
	}
}

// ApplicationMetrics names the series the daemon records.
type ApplicationMetrics struct {
	collector *MetricsCollector
}

// NewApplicationMetrics wraps collector with the daemon's named metrics.
func NewApplicationMetrics(collector *MetricsCollector) *ApplicationMetrics {
	return &ApplicationMetrics{
		collector: collector,
	}
}

// Collector returns the underlying collector.
func (am *ApplicationMetrics) Collector() *MetricsCollector {
	return am.collector
}

// RecordPoll records one status fetch.
func (am *ApplicationMetrics) RecordPoll(provider string, success bool, duration time.Duration) {
	labels := map[string]string{
		"provider": provider,
		"success":  strconv.FormatBool(success),
	}

	am.collector.IncCounter("provider_polls_total", labels)
	am.collector.RecordDuration("provider_poll_duration_seconds", duration, map[string]string{"provider": provider})
}

// RecordPush records one pushed status update.
func (am *ApplicationMetrics) RecordPush(provider string, success bool) {
	am.collector.IncCounter("provider_pushes_total", map[string]string{
		"provider": provider,
		"success":  strconv.FormatBool(success),
	})
}

// RecordProviderConnected records whether the provider can currently reach
// its source.
func (am *ApplicationMetrics) RecordProviderConnected(provider string, connected bool) {
	value := 0.0
	if connected {
		value = 1
	}

	am.collector.SetGauge("provider_connected", value, map[string]string{"provider": provider})
}

// RecordTransition counts a playback state change and tracks the phase.
func (am *ApplicationMetrics) RecordTransition(transition, phase string) {
	am.collector.IncCounter("playback_transitions_total", map[string]string{"transition": transition})

	playing := 0.0
	if phase == "playing" {
		playing = 1
	}

	am.collector.SetGauge("playback_playing", playing, nil)
}

// RecordFrame records one rendered frame and whether it reached the sink.
func (am *ApplicationMetrics) RecordFrame(presented bool, duration time.Duration) {
	am.collector.IncCounter("frames_total", map[string]string{"presented": strconv.FormatBool(presented)})
	am.collector.RecordDuration("frame_duration_seconds", duration, nil)
}

// RecordSinkError counts a failed present.
func (am *ApplicationMetrics) RecordSinkError(sink string) {
	am.collector.IncCounter("sink_errors_total", map[string]string{"sink": sink})
}

// RecordError counts an error handled without stopping the daemon.
func (am *ApplicationMetrics) RecordError(component string) {
	am.collector.IncCounter("errors_total", map[string]string{"component": component})
}

// Snapshot returns every recorded metric sorted by series.
func (am *ApplicationMetrics) Snapshot() []*Metric {
	return am.collector.Snapshot()
}

// RecordConfigReload counts a SIGHUP or file-watch reload.
func (am *ApplicationMetrics) RecordConfigReload(success bool, duration time.Duration) {
	labels := map[string]string{"success": strconv.FormatBool(success)}

	am.collector.IncCounter("config_reloads_total", labels)
	am.collector.RecordDuration("config_reload_duration_seconds", duration, labels)
}

func (am *ApplicationMetrics) RecordDaemonUptime(uptime time.Duration) {
	am.collector.SetGaugeWithUnit("daemon_uptime_seconds", uptime.Seconds(), nil, "seconds")
}

// RecordMemoryUsage records the resident set size of the process.
func (am *ApplicationMetrics) RecordMemoryUsage(rss uint64) {
	am.collector.SetGaugeWithUnit("process_rss_bytes", float64(rss), nil, "bytes")
}

// RecordHealthCheck records the outcome of one health check.
func (am *ApplicationMetrics) RecordHealthCheck(component string, healthy bool, duration time.Duration) {
	labels := map[string]string{
		"component": component,
		"healthy":   strconv.FormatBool(healthy),
	}

	am.collector.IncCounter("health_checks_total", labels)
	am.collector.RecordDuration("health_check_duration_seconds", duration, map[string]string{"component": component})

	healthValue := 1.0
	if !healthy {
		healthValue = 0.0
	}

	am.collector.SetGauge("component_health", healthValue, map[string]string{"component": component})
}
