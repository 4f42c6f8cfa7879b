// Package metrics aggregates duration samples with an HDR histogram.
//
// The latency prober feeds round-trip times into a [Collector] to report
// percentiles next to the mean and jitter; the bandwidth tester uses one per
// direction for request durations and failure breakdowns:
//
//	c := metrics.NewCollector()
//	c.Record(rtt)
//	c.RecordFailure(err)
//	stats := c.Stats()
//
// Failures are grouped by [ErrorLabel].
package metrics
