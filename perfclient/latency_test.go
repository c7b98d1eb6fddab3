package perfclient

import (
	"sync"
	"testing"
)

func TestLatencyRingRecordsWithinCapacity(t *testing.T) {
	r := newLatencyRing(4)
	r.Record(100)
	r.Record(200)
	if got := r.Count(); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	samples := r.Samples()
	if len(samples) != 2 || samples[0] != 100 || samples[1] != 200 {
		t.Fatalf("unexpected samples: %v", samples)
	}
}

func TestLatencyRingDropsPastCapacity(t *testing.T) {
	r := newLatencyRing(2)
	r.Record(1)
	r.Record(2)
	r.Record(3)
	if got := r.Count(); got != 2 {
		t.Fatalf("expected count capped at 2, got %d", got)
	}
	if got := r.CurIndex(); got != 3 {
		t.Fatalf("expected raw cursor 3, got %d", got)
	}
}

func TestLatencyRingZeroCapacityDropsEverything(t *testing.T) {
	r := newLatencyRing(0)
	r.Record(1)
	if got := r.Count(); got != 0 {
		t.Fatalf("expected count 0, got %d", got)
	}
}

func TestLatencyRingCapsOverflowValues(t *testing.T) {
	r := newLatencyRing(1)
	r.Record(uint64(^uint32(0)) + 1000)
	if got := r.Samples()[0]; got != ^uint32(0) {
		t.Fatalf("expected saturated max uint32, got %d", got)
	}
}

func TestLatencyRingConcurrentRecordDoesNotRace(t *testing.T) {
	r := newLatencyRing(1000)
	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			r.Record(v)
		}(uint64(i))
	}
	wg.Wait()
	if got := r.Count(); got != 1000 {
		t.Fatalf("expected 1000 samples, got %d", got)
	}
}
