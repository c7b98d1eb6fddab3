package percentiles_test

import (
	"testing"

	"github.com/URNOTCharlotte/msquic/percentiles"
)

func TestSummarizeEmpty(t *testing.T) {
	s := percentiles.Summarize(nil)
	if s.Samples != 0 {
		t.Fatalf("expected 0 samples, got %d", s.Samples)
	}
}

func TestSummarizeUniform(t *testing.T) {
	samples := make([]uint32, 1000)
	for i := range samples {
		samples[i] = 1000
	}
	s := percentiles.Summarize(samples)
	if s.Samples != 1000 {
		t.Fatalf("expected 1000 samples, got %d", s.Samples)
	}
	if s.Quantile50 == 0 || s.Quantile99 == 0 {
		t.Fatalf("expected non-zero quantiles, got %+v", s)
	}
	if s.Max < s.Quantile999 {
		t.Fatalf("max %d should be >= p99.9 %d", s.Max, s.Quantile999)
	}
}

func TestSummarizeSpread(t *testing.T) {
	samples := []uint32{100, 200, 300, 400, 100000}
	s := percentiles.Summarize(samples)
	if s.Max < 90000 {
		t.Fatalf("expected max near 100000, got %d", s.Max)
	}
}
