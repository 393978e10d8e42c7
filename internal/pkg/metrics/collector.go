package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	readingsDesc = prometheus.NewDesc(
		"cgc_cim_metrics_readings_total",
		"Readings filed into the metrics store.",
		nil, nil,
	)
	bucketsDesc = prometheus.NewDesc(
		"cgc_cim_metrics_buckets",
		"Populated time buckets in the metrics store.",
		nil, nil,
	)
	bucketWidthDesc = prometheus.NewDesc(
		"cgc_cim_metrics_bucket_duration_ms",
		"Width of a metrics store bucket.",
		nil, nil,
	)
)

// Collector exposes store occupancy to Prometheus.
type Collector struct {
	store *Store
}

// NewCollector returns a prometheus.Collector reading from s.
func NewCollector(s *Store) *Collector {
	return &Collector{store: s}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- readingsDesc
	ch <- bucketsDesc
	ch <- bucketWidthDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(readingsDesc, prometheus.CounterValue, float64(c.store.Len()))
	ch <- prometheus.MustNewConstMetric(bucketsDesc, prometheus.GaugeValue, float64(c.store.NumBuckets()))
	ch <- prometheus.MustNewConstMetric(bucketWidthDesc, prometheus.GaugeValue, float64(c.store.BucketDuration()))
}
