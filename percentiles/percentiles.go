// Package percentiles summarizes a run's recorded latency samples into
// p50/p90/p99/p99.9/max quantiles, on top of codahale/hdrhistogram.
package percentiles

import "github.com/codahale/hdrhistogram"

// dayInMicros bounds the histogram's value range; no single request
// in a load test should take longer than a day.
const dayInMicros = 24 * 60 * 60 * 1000 * 1000

// Summary holds a run's latency quantiles in microseconds, plus the
// sample count they were computed from.
type Summary struct {
	Samples     uint64
	Quantile50  int64
	Quantile90  int64
	Quantile99  int64
	Quantile999 int64
	Max         int64
}

// Summarize builds a Summary from raw microsecond samples, such as
// those returned by a latency ring's Samples method.
func Summarize(samplesMicros []uint32) Summary {
	hist := hdrhistogram.New(0, dayInMicros, 3)
	for _, v := range samplesMicros {
		hist.RecordValue(int64(v))
	}
	return Summary{
		Samples:     uint64(len(samplesMicros)),
		Quantile50:  hist.ValueAtQuantile(50),
		Quantile90:  hist.ValueAtQuantile(90),
		Quantile99:  hist.ValueAtQuantile(99),
		Quantile999: hist.ValueAtQuantile(99.9),
		Max:         hist.Max(),
	}
}
