package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	m.collectSystemMetrics()

	var sb strings.Builder

	// Fold metrics
	writeCounterVec(&sb, m.FoldsTotal)
	writeCounterVec(&sb, m.FoldErrors)
	writeHistogram(&sb, m.FoldDuration)
	writeCounter(&sb, m.DegenerateLabels)
	writeGaugeVec(&sb, m.TopKAccuracy)

	// Embedding metrics
	writeCounter(&sb, m.EmbedBatches)
	writeCounter(&sb, m.EmbedItems)
	writeHistogram(&sb, m.EmbedLatency)
	writeCounter(&sb, m.QueriesScored)

	// Cache metrics
	writeCounterVec(&sb, m.CacheHits)
	writeCounterVec(&sb, m.CacheMisses)
	writeGaugeVec(&sb, m.CacheSize)

	// Event bus metrics
	writeCounterVec(&sb, m.BusEventsPublished)
	writeHistogramVec(&sb, m.BusEventLatency)
	writeCounterVec(&sb, m.BusErrors)

	// HTTP metrics
	writeCounterVec(&sb, m.HTTPRequests)
	writeHistogramVec(&sb, m.HTTPDuration)
	writeGauge(&sb, m.HTTPRequestsInFlight)

	// System metrics
	writeGauge(&sb, m.GoroutineCount)
	writeGauge(&sb, m.MemoryUsage)
	writeGauge(&sb, m.Uptime)

	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// writeCounter writes a counter in Prometheus format.
func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.Name(), c.Help(), "counter")
	writeSample(sb, c.Name(), c.Labels(), strconv.FormatInt(c.Value(), 10))
}

// writeGauge writes a gauge in Prometheus format.
func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.Name(), g.Help(), "gauge")
	writeSample(sb, g.Name(), g.Labels(), formatFloat(g.Value()))
}

// writeHistogram writes a histogram in Prometheus format.
func writeHistogram(sb *strings.Builder, h *Histogram) {
	writeHeader(sb, h.Name(), h.Help(), "histogram")
	writeHistogramSamples(sb, h)
}

func writeHistogramSamples(sb *strings.Builder, h *Histogram) {
	labels := h.Labels()
	counts := h.BucketCounts()

	for i, bound := range h.Buckets() {
		writeSample(sb, h.Name()+"_bucket", withLabel(labels, "le", formatFloat(bound)), strconv.FormatInt(counts[i], 10))
	}
	writeSample(sb, h.Name()+"_bucket", withLabel(labels, "le", "+Inf"), strconv.FormatInt(counts[len(counts)-1], 10))
	writeSample(sb, h.Name()+"_sum", labels, formatFloat(h.Sum()))
	writeSample(sb, h.Name()+"_count", labels, strconv.FormatInt(h.Count(), 10))
}

// writeCounterVec writes a counter vector in Prometheus format.
func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.GetAll()
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, cv.Name(), cv.Help(), "counter")
	for _, c := range counters {
		writeSample(sb, c.Name(), c.Labels(), strconv.FormatInt(c.Value(), 10))
	}
}

// writeGaugeVec writes a gauge vector in Prometheus format.
func writeGaugeVec(sb *strings.Builder, gv *GaugeVec) {
	gauges := gv.GetAll()
	if len(gauges) == 0 {
		return
	}
	writeHeader(sb, gv.Name(), gv.Help(), "gauge")
	for _, g := range gauges {
		writeSample(sb, g.Name(), g.Labels(), formatFloat(g.Value()))
	}
}

// writeHistogramVec writes a histogram vector in Prometheus format.
func writeHistogramVec(sb *strings.Builder, hv *HistogramVec) {
	histograms := hv.GetAll()
	if len(histograms) == 0 {
		return
	}
	writeHeader(sb, hv.Name(), hv.Help(), "histogram")
	for _, h := range histograms {
		writeHistogramSamples(sb, h)
	}
}

func writeSample(sb *strings.Builder, name string, labels map[string]string, value string) {
	sb.WriteString(name)
	writeLabels(sb, labels)
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := copyLabels(labels)
	out[key] = value
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	// Sort keys for stable output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeString(labels[k]))
		sb.WriteString("\"")
	}
	sb.WriteString("}")
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
