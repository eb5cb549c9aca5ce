package orchestration

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// scheduleSentence appends one sentence to the session's FIFO queue and
// makes sure a drain activation is running. Pacing exists because the
// client plays back roughly one sentence's audio per interval; pushing
// synthesis bursts down the socket mid-playback only builds up buffers.
func (e *Engine) scheduleSentence(sess *session, sentence string) {
	if strings.TrimSpace(sentence) == "" || sess.isClosed() {
		return
	}

	sess.enqueueSentence(sentence)
	e.ensureDrain(sess)
}

// ensureDrain starts a drain activation unless one already owns the queue.
// The head sentence is synthesized immediately on the caller's goroutine;
// only the sentences after it are paced.
func (e *Engine) ensureDrain(sess *session) {
	if !sess.draining.CompareAndSwap(false, true) {
		return
	}

	// The pool bounds how many sessions speak at once. Waiting queues this
	// session's speech instead of dropping it.
	if err := e.drainPool.Acquire(sess.ctx, 1); err != nil {
		sess.draining.Store(false)
		return
	}

	if !e.drainTick(sess) {
		e.finishDrain(sess)
		return
	}

	go e.drainLoop(sess)
}

// drainLoop processes one queued sentence per tick. Synthesis runs inline
// in the tick, so a sentence that outlives the period delays the next tick
// instead of overlapping it (the ticker drops missed ticks); the queue only
// ever has this one consumer.
func (e *Engine) drainLoop(sess *session) {
	ticker := time.NewTicker(e.synthesisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.drainStop:
			sess.clearQueue()
			e.endSpeechStages(sess)
			e.finishDrain(sess)
			return
		case <-ticker.C:
			if !e.drainTick(sess) {
				e.finishDrain(sess)
				return
			}
		}
	}
}

// finishDrain releases the activation and re-kicks the drain if a producer
// enqueued between the final empty poll and the flag clearing.
func (e *Engine) finishDrain(sess *session) {
	e.drainPool.Release(1)
	sess.draining.Store(false)

	if !sess.isClosed() && sess.queueLength() > 0 {
		e.ensureDrain(sess)
	}
}

// drainTick consumes at most one sentence. It reports false once the
// activation should stop: connection gone or nothing left to say. Either
// way the tts/write spans are ended with their measures applied.
func (e *Engine) drainTick(sess *session) bool {
	if sess.isClosed() || !sess.conn.Open() {
		sess.clearQueue()
		e.endSpeechStages(sess)
		return false
	}

	sentence, ok := sess.dequeueSentence()
	if !ok {
		e.endSpeechStages(sess)
		return false
	}

	if e.synthesizer == nil {
		e.logger.Warn("no synthesizer configured, dropping sentence", "session", sess.id)
		return true
	}

	ttsStage := e.ensureTTSStage(sess)

	err := e.synthesizer.Synthesize(sess.ctx, sentence, func(chunk []byte) {
		ttsStage.measure.RecordChunk()

		if len(chunk) == 0 {
			return
		}

		writeStage := e.ensureWriteStage(sess)
		if ttfc, first := writeStage.measure.RecordChunk(); first {
			writeStage.span.SetAttributes(
				attribute.Int64("websocket.write.time_to_first_chunk_ms", ttfc.Milliseconds()))
		}

		if !sess.conn.Open() {
			return
		}
		if err := sess.conn.WriteAudio(chunk); err != nil {
			// Delivery failure drops the chunk, nothing more.
			e.logger.Error("failed to deliver audio chunk", "session", sess.id, "bytes", len(chunk), "error", err)
		}
	})
	if err != nil {
		// This sentence's audio is simply absent; the session continues.
		e.logger.Error("speech synthesis failed", "session", sess.id, "error", err)
	}

	return true
}

func (e *Engine) ensureTTSStage(sess *session) *stage {
	sess.stageMu.Lock()
	defer sess.stageMu.Unlock()

	if sess.tts == nil {
		_, span := e.tracer.Start(sess.ctx, "tts.synthesis",
			trace.WithAttributes(
				attribute.String("websocket.session.id", sess.id),
				attribute.String("tts.format", "mp3"),
			))
		sess.tts = newStage(span)
	}
	return sess.tts
}

func (e *Engine) ensureWriteStage(sess *session) *stage {
	sess.stageMu.Lock()
	defer sess.stageMu.Unlock()

	if sess.write == nil {
		_, span := e.tracer.Start(sess.ctx, "websocket.write",
			trace.WithAttributes(
				attribute.String("websocket.session.id", sess.id),
				attribute.String("websocket.write.type", "binary"),
			))
		sess.write = newStage(span)
	}
	return sess.write
}

// endSpeechStages closes the tts and write spans together; the slots are
// cleared so a later utterance on the same session opens fresh spans.
func (e *Engine) endSpeechStages(sess *session) {
	sess.stageMu.Lock()
	tts, write := sess.tts, sess.write
	sess.tts, sess.write = nil, nil
	sess.stageMu.Unlock()

	tts.end("tts")
	write.end("websocket.write")
}
