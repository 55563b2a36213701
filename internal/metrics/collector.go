package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Metrics registry to Prometheus. Names become the "name" label
// of a fixed set of metric families.
type Collector struct {
	m *Metrics

	counters   *prometheus.Desc
	gauges     *prometheus.Desc
	timerCount *prometheus.Desc
	timerSum   *prometheus.Desc
	opsTotal   *prometheus.Desc
	opsErrors  *prometheus.Desc
	health     *prometheus.Desc
	uptime     *prometheus.Desc
}

// NewCollector creates a collector with the given namespace
func NewCollector(namespace string, m *Metrics) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		m:          m,
		counters:   desc("events_total", "Monotonic counters by name.", "name"),
		gauges:     desc("gauge", "Point-in-time values by name.", "name"),
		timerCount: desc("duration_milliseconds_count", "Number of timed operations by name.", "name"),
		timerSum:   desc("duration_milliseconds_sum", "Total milliseconds spent by name.", "name"),
		opsTotal:   desc("operations_total", "Operations tracked for error rate by name.", "name"),
		opsErrors:  desc("operation_errors_total", "Failed operations by name.", "name"),
		health:     desc("component_healthy", "1 when the component is healthy.", "component"),
		uptime:     desc("uptime_seconds", "Seconds since the process started."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.counters, c.gauges, c.timerCount, c.timerSum, c.opsTotal, c.opsErrors, c.health, c.uptime} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.m.GetCounters() {
		ch <- prometheus.MustNewConstMetric(c.counters, prometheus.CounterValue, float64(v), name)
	}
	for name, v := range c.m.GetGauges() {
		ch <- prometheus.MustNewConstMetric(c.gauges, prometheus.GaugeValue, float64(v), name)
	}
	for name, t := range c.m.GetTimers() {
		ch <- prometheus.MustNewConstMetric(c.timerCount, prometheus.CounterValue, float64(t.Count), name)
		ch <- prometheus.MustNewConstMetric(c.timerSum, prometheus.CounterValue, float64(t.TotalTimeMs), name)
	}
	for name, er := range c.m.GetErrorRates() {
		ch <- prometheus.MustNewConstMetric(c.opsTotal, prometheus.CounterValue, float64(er.Total), name)
		ch <- prometheus.MustNewConstMetric(c.opsErrors, prometheus.CounterValue, float64(er.Errors), name)
	}
	for component, ok := range c.m.GetHealthChecks() {
		v := 0.0
		if ok {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.health, prometheus.GaugeValue, v, component)
	}
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, float64(c.m.GetUptimeSeconds()))
}
