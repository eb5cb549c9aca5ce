package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// endOfUtteranceSignal is the control payload that finalizes the current
// utterance. Any other text control frame is logged and ignored.
const endOfUtteranceSignal = "END"

// Engine owns the per-session streaming orchestration: audio ingest,
// single-flight finalization, the intent/response pipeline, paced speech
// synthesis and the latency span tree. Sessions are fully independent; any
// stage may fail without tearing down its connection.
type Engine struct {
	tracer trace.Tracer
	logger *slog.Logger

	recognizer  Recognizer
	classifier  IntentClassifier
	generator   ResponseGenerator
	synthesizer Synthesizer
	orders      OrderPlacer

	registry *registry

	finalizeWorkers int
	drainWorkers    int
	finalizePool    *semaphore.Weighted
	drainPool       *semaphore.Weighted

	synthesisInterval time.Duration
	finalizeTimeout   time.Duration

	closeOnce sync.Once
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		tracer:            otel.Tracer(scopeName),
		logger:            logger,
		registry:          newRegistry(),
		finalizeWorkers:   defaultFinalizeWorkers,
		drainWorkers:      defaultDrainWorkers,
		synthesisInterval: defaultSynthesisInterval,
		finalizeTimeout:   defaultFinalizeTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.finalizePool = semaphore.NewWeighted(int64(e.finalizeWorkers))
	e.drainPool = semaphore.NewWeighted(int64(e.drainWorkers))

	return e
}

// OpenSession registers a new session and starts its recognition stream. A
// returned error is fatal to the connection attempt; everything after a
// successful open is recovered per stage.
func (e *Engine) OpenSession(ctx context.Context, sessionID string, conn Conn) error {
	// The session must be able to outlive the transport's request context:
	// an in-flight finalization keeps running up to its own deadline after
	// the client disconnects.
	base := context.WithoutCancel(ctx)
	spanCtx, span := e.tracer.Start(base, "websocket.connection",
		trace.WithAttributes(
			attribute.String("websocket.session.id", sessionID),
			attribute.String("websocket.endpoint", "/ws/asr"),
			attribute.String("websocket.connection.type", "server"),
		))

	sess := newSession(sessionID, conn, spanCtx, span)
	if err := e.registry.open(sess); err != nil {
		span.RecordError(err)
		span.End()
		return fmt.Errorf("failed to register session %s: %w", sessionID, err)
	}

	if e.recognizer != nil {
		if err := e.recognizer.Start(sess.ctx, sessionID); err != nil {
			e.registry.remove(sessionID)
			sess.markClosed()
			recordedErr := fmt.Errorf("failed to start recognition stream: %w", err)
			span.RecordError(recordedErr)
			span.End()
			return recordedErr
		}
		sess.recognizing.Store(true)
	}

	e.logger.Info("session opened", "session", sessionID)
	e.emit(sess, newConnectedEvent(sessionID))
	return nil
}

// HandleAudioFrame ingests one binary audio frame. Frames for unknown or
// closed sessions are dropped; forwarding failures are logged and never
// propagate to the transport.
func (e *Engine) HandleAudioFrame(sessionID string, audio []byte) {
	sess, ok := e.registry.get(sessionID)
	if !ok {
		return
	}

	e.ensureASRStage(sess)

	if e.recognizer != nil && !sess.recognizing.Load() {
		// Self-heal: a missed open event or an earlier stream failure must
		// not drop the caller's audio.
		if err := e.recognizer.Start(sess.ctx, sessionID); err != nil {
			e.logger.Error("failed to restart recognition stream", "session", sessionID, "error", err)
		} else {
			sess.recognizing.Store(true)
			e.registerASRMeasure(sess)
		}
	}

	sess.mu.Lock()
	sess.lastAudioAt = time.Now()
	sess.audioBuf.Write(audio)
	sess.mu.Unlock()

	if e.recognizer == nil {
		return
	}
	if err := e.recognizer.Append(sessionID, audio); err != nil {
		// Mark the stream dead so the next frame takes the restart branch
		// instead of being dropped too.
		sess.recognizing.Store(false)
		e.logger.Error("failed to forward audio frame", "session", sessionID, "bytes", len(audio), "error", err)
	}
}

// HandleControl routes one inbound text control frame.
func (e *Engine) HandleControl(sessionID string, payload string) {
	if strings.TrimSpace(payload) == endOfUtteranceSignal {
		if err := e.FinishUtterance(sessionID); err != nil && !errors.Is(err, ErrFinalizationInFlight) {
			e.logger.Warn("end-of-utterance trigger not accepted", "session", sessionID, "error", err)
		}
		return
	}
	e.logger.Info("ignoring control message", "session", sessionID, "payload", payload)
}

// CloseSession tears the session down: it leaves the registry first so
// in-flight callbacks become no-ops, then the drain task is cancelled, the
// queue cleared, and every still-open span ended exactly once.
func (e *Engine) CloseSession(sessionID string, closeCode int, reason string) {
	sess, ok := e.registry.remove(sessionID)
	if !ok {
		return
	}

	sess.markClosed()
	sess.clearQueue()

	if aborter, ok := e.recognizer.(recognitionAborter); ok {
		aborter.Abort(sessionID)
	}

	e.endSpeechStages(sess)

	sess.stageMu.Lock()
	asr := sess.asr
	sess.asr = nil
	sess.stageMu.Unlock()
	asr.end("asr")

	sess.span.SetAttributes(
		attribute.Int("websocket.close.status", closeCode),
		attribute.String("websocket.close.reason", reason),
	)
	sess.span.End()

	if e.generator != nil {
		e.generator.ClearContext(sessionID)
	}

	e.logger.Info("session closed", "session", sessionID, "status", closeCode, "reason", reason)
}

// Close shuts down every live session. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		for _, sess := range e.registry.all() {
			e.CloseSession(sess.id, 1001, "server shutting down")
		}
	})
}

func (e *Engine) emit(sess *session, event Event) {
	if !sess.conn.Open() {
		return
	}
	if err := sess.conn.WriteEvent(event); err != nil {
		e.logger.Error("failed to write event", "session", sess.id, "type", event.Type, "error", err)
	}
}

// ensureASRStage opens the asr span on the first audio frame of an
// utterance and hands its measure to the recognizer when supported.
func (e *Engine) ensureASRStage(sess *session) {
	sess.stageMu.Lock()
	if sess.asr != nil {
		sess.stageMu.Unlock()
		return
	}
	_, span := e.tracer.Start(sess.ctx, "asr.transcription",
		trace.WithAttributes(
			attribute.String("websocket.session.id", sess.id),
			attribute.String("asr.format", "pcm"),
		))
	sess.asr = newStage(span)
	sess.stageMu.Unlock()

	e.registerASRMeasure(sess)
}

func (e *Engine) registerASRMeasure(sess *session) {
	registrar, ok := e.recognizer.(measureRegistrar)
	if !ok {
		return
	}
	sess.stageMu.Lock()
	asr := sess.asr
	sess.stageMu.Unlock()
	if asr != nil {
		registrar.RegisterMeasure(sess.id, asr.measure)
	}
}
