package orchestration

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Measure accumulates chunk-delivery latency for one stage of a session:
// time to first chunk, average inter-chunk interval and total chunk count.
type Measure struct {
	mu sync.Mutex

	startedAt     time.Time
	firstChunkAt  time.Time
	lastChunkAt   time.Time
	chunkCount    int
	totalInterval time.Duration
}

func NewMeasure() *Measure {
	return &Measure{}
}

// Start records the measurement origin. Calling it again before the measure
// is discarded is a no-op.
func (m *Measure) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startedAt.IsZero() {
		m.startedAt = time.Now()
	}
}

// RecordChunk registers one delivered chunk. On the first chunk it reports
// the elapsed time since Start; every later call reports ok=false and only
// updates the interval statistics.
func (m *Measure) RecordChunk() (timeToFirstChunk time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.startedAt.IsZero() {
		logger.Warn("performance measure recorded a chunk before start")
		m.startedAt = now
	}

	m.chunkCount++

	if m.firstChunkAt.IsZero() {
		m.firstChunkAt = now
		timeToFirstChunk = now.Sub(m.startedAt)
		ok = true
	}

	if !m.lastChunkAt.IsZero() {
		m.totalInterval += now.Sub(m.lastChunkAt)
	}
	m.lastChunkAt = now

	return timeToFirstChunk, ok
}

func (m *Measure) TimeToFirstChunk() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstChunkAt.IsZero() || m.startedAt.IsZero() {
		return 0, false
	}
	return m.firstChunkAt.Sub(m.startedAt), true
}

// AverageInterval is defined once at least two chunks have been recorded.
func (m *Measure) AverageInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chunkCount < 2 {
		return 0, false
	}
	return m.totalInterval / time.Duration(m.chunkCount-1), true
}

func (m *Measure) ChunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.chunkCount
}

// ApplyToSpan attaches the derived metrics to span under the given attribute
// prefix, omitting any metric that is not defined yet.
func (m *Measure) ApplyToSpan(span trace.Span, prefix string) {
	if m == nil || span == nil {
		return
	}

	if ttfc, ok := m.TimeToFirstChunk(); ok {
		span.SetAttributes(attribute.Int64(prefix+".time_to_first_chunk_ms", ttfc.Milliseconds()))
	}
	if interval, ok := m.AverageInterval(); ok {
		span.SetAttributes(attribute.Int64(prefix+".time_per_output_chunk_ms", interval.Milliseconds()))
	}
	if count := m.ChunkCount(); count > 0 {
		span.SetAttributes(attribute.Int(prefix+".chunk_count", count))
	}
}
