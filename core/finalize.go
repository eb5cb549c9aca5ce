package orchestration

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// FinishUtterance reacts to the end-of-audio signal. The processing flag's
// compare-and-swap makes redundant triggers no-ops, and the actual work runs
// on a bounded worker pool so a multi-second recognition wait never stalls
// frame ingestion for this or any other session.
func (e *Engine) FinishUtterance(sessionID string) error {
	sess, ok := e.registry.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	if !sess.processing.CompareAndSwap(false, true) {
		return ErrFinalizationInFlight
	}

	if !e.finalizePool.TryAcquire(1) {
		sess.processing.Store(false)
		e.emit(sess, newErrorEvent("server is busy, please try again"))
		return ErrWorkerPoolSaturated
	}

	go func() {
		defer e.finalizePool.Release(1)
		// The flag resets on every path so a later utterance on the same
		// session can finalize again.
		defer sess.processing.Store(false)
		e.finalize(sess)
	}()

	return nil
}

func (e *Engine) finalize(sess *session) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("finalization worker panicked", "session", sess.id, "panic", recovered)
		}
	}()

	transcript := ""
	if e.recognizer != nil {
		ctx, cancel := context.WithTimeout(sess.ctx, e.finalizeTimeout)
		defer cancel()

		var err error
		transcript, err = e.recognizer.End(ctx, sess.id)
		if err != nil {
			// Recovered: End reports the best transcript observed so far,
			// possibly empty. The session is not failed.
			e.logger.Warn("recognition did not complete cleanly, using best transcript so far",
				"session", sess.id, "error", err)
		}
	}
	sess.recognizing.Store(false)

	sess.stageMu.Lock()
	asr := sess.asr
	sess.asr = nil
	sess.stageMu.Unlock()
	asr.end("asr", attribute.Int("asr.transcript.length", len(transcript)))

	if strings.TrimSpace(transcript) == "" {
		e.logger.Warn("no transcript for utterance", "session", sess.id)
		e.emit(sess, newErrorEvent("no speech was recognized"))
		return
	}

	e.logger.Info("utterance transcribed", "session", sess.id, "transcript", transcript)
	e.emit(sess, newTranscriptEvent(transcript))

	e.respond(sess, transcript)
}
