package orchestration

import (
	"testing"
	"time"
)

func TestMeasureFirstChunkReportsTimeToFirstChunk(t *testing.T) {
	measure := NewMeasure()
	measure.Start()

	ttfc, ok := measure.RecordChunk()
	if !ok {
		t.Fatalf("expected first chunk to report time to first chunk")
	}
	if ttfc < 0 {
		t.Fatalf("expected non-negative time to first chunk, got %v", ttfc)
	}

	if _, ok := measure.RecordChunk(); ok {
		t.Fatalf("expected second chunk to not report time to first chunk")
	}

	if got := measure.ChunkCount(); got != 2 {
		t.Fatalf("expected chunk count 2, got %d", got)
	}
}

func TestMeasureAverageIntervalRequiresTwoChunks(t *testing.T) {
	measure := NewMeasure()
	measure.Start()

	if _, ok := measure.AverageInterval(); ok {
		t.Fatalf("expected average interval to be undefined before any chunk")
	}

	measure.RecordChunk()
	if _, ok := measure.AverageInterval(); ok {
		t.Fatalf("expected average interval to be undefined after one chunk")
	}

	time.Sleep(10 * time.Millisecond)
	measure.RecordChunk()

	interval, ok := measure.AverageInterval()
	if !ok {
		t.Fatalf("expected average interval to be defined after two chunks")
	}
	if interval < 5*time.Millisecond {
		t.Fatalf("expected average interval to reflect the observed gap, got %v", interval)
	}
}

func TestMeasureStartIsIdempotent(t *testing.T) {
	measure := NewMeasure()
	measure.Start()
	time.Sleep(5 * time.Millisecond)
	measure.Start()

	ttfc, ok := measure.RecordChunk()
	if !ok {
		t.Fatalf("expected first chunk to report time to first chunk")
	}
	if ttfc < 5*time.Millisecond {
		t.Fatalf("expected the second Start call to be a no-op, got time to first chunk %v", ttfc)
	}
}

func TestMeasureRecordChunkBeforeStartSelfStarts(t *testing.T) {
	measure := NewMeasure()

	if _, ok := measure.RecordChunk(); !ok {
		t.Fatalf("expected self-started measure to still report a first chunk")
	}
	if got := measure.ChunkCount(); got != 1 {
		t.Fatalf("expected chunk count 1, got %d", got)
	}
}
