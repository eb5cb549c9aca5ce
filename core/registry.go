package orchestration

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// stage is one instrumented phase of a session (asr, tts, write). endOnce
// guarantees the span is ended exactly once even when the drain loop and the
// close path race.
type stage struct {
	span    trace.Span
	measure *Measure
	endOnce sync.Once
}

func newStage(span trace.Span) *stage {
	measure := NewMeasure()
	measure.Start()
	return &stage{span: span, measure: measure}
}

// end applies the stage measure and any extra attributes to the span before
// ending it. Safe to call multiple times.
func (s *stage) end(prefix string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.endOnce.Do(func() {
		s.measure.ApplyToSpan(s.span, prefix)
		if len(attrs) > 0 {
			s.span.SetAttributes(attrs...)
		}
		s.span.End()
	})
}

// session is the per-connection state. All sessions live in the registry
// map; no session ever touches another session's state, so the only
// cross-goroutine points inside one session are the atomics, the queue
// mutex and the stage mutex.
type session struct {
	id   string
	conn Conn

	// ctx carries the connection span and is detached from the transport's
	// request context so finalization can outlive the socket.
	ctx  context.Context
	span trace.Span

	mu          sync.Mutex
	audioBuf    bytes.Buffer // diagnostic, append-only until close
	lastAudioAt time.Time
	segments    segmenter

	// recognizing tracks whether a recognition stream is active so the
	// ingest path can self-heal after missed or failed starts.
	recognizing atomic.Bool
	// processing is the single-flight finalization guard.
	processing atomic.Bool

	queueMu sync.Mutex
	queue   *queue.Queue // pending sentences, strictly FIFO

	// draining is true while a drain activation owns the queue's consumer
	// side.
	draining atomic.Bool

	stageMu sync.Mutex
	asr     *stage
	tts     *stage
	write   *stage

	closed    atomic.Bool
	closeOnce sync.Once
	// drainStop is closed on session close to cancel the drain ticker.
	drainStop chan struct{}
}

func newSession(id string, conn Conn, ctx context.Context, span trace.Span) *session {
	return &session{
		id:          id,
		conn:        conn,
		ctx:         ctx,
		span:        span,
		lastAudioAt: time.Now(),
		queue:       queue.New(),
		drainStop:   make(chan struct{}),
	}
}

func (s *session) isClosed() bool { return s.closed.Load() }

func (s *session) markClosed() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.drainStop)
	})
}

func (s *session) enqueueSentence(sentence string) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue.Add(sentence)
}

func (s *session) dequeueSentence() (string, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queue.Length() == 0 {
		return "", false
	}
	sentence, _ := s.queue.Remove().(string)
	return sentence, true
}

func (s *session) queueLength() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.Length()
}

func (s *session) clearQueue() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for s.queue.Length() > 0 {
		s.queue.Remove()
	}
}

// registry holds every live session keyed by id. Removal is atomic with
// respect to lookups: once remove returns, frames for that id resolve to
// no-ops.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: map[string]*session{}}
}

func (r *registry) open(sess *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.id]; exists {
		return ErrSessionExists
	}
	r.sessions[sess.id] = sess
	return nil
}

func (r *registry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// remove detaches the session from the registry and returns ownership of it
// to the caller for teardown.
func (r *registry) remove(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return sess, ok
}

func (r *registry) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}
