package orchestration

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// generationApology is delivered as if it were a generated delta whenever
// response generation fails, so the caller still hears something.
const generationApology = "Sorry, I ran into a problem while answering. Please try again."

// respond drives classification, generation, segmentation and synthesis
// scheduling for one finalized transcript. Every stage recovers at its own
// boundary; nothing here unwinds into the finalization worker.
func (e *Engine) respond(sess *session, transcript string) {
	intent := e.classifyIntent(sess.ctx, transcript)
	e.emit(sess, newIntentEvent(intent))

	prompt := transcript
	if intent == IntentOrder {
		prompt = e.buildOrderPrompt(sess.ctx, transcript)
	}

	e.generate(sess, prompt)

	sess.mu.Lock()
	remainder, ok := sess.segments.Flush()
	sess.mu.Unlock()
	if ok {
		e.scheduleSentence(sess, remainder)
	}

	e.emit(sess, newCompleteEvent())
}

// classifyIntent fails open to chitchat: placing an order moves money and
// inventory, so a broken classifier must never trigger one.
func (e *Engine) classifyIntent(ctx context.Context, transcript string) Intent {
	if e.classifier == nil {
		return IntentChitchat
	}

	intent, err := e.classifier.Classify(ctx, transcript)
	if err != nil {
		e.logger.Warn("intent classification failed, defaulting to chitchat", "error", err)
		return IntentChitchat
	}
	if intent != IntentOrder {
		return IntentChitchat
	}
	return IntentOrder
}

func (e *Engine) buildOrderPrompt(ctx context.Context, transcript string) string {
	item, quantity := extractOrder(transcript)

	orderID := OrderFailedID
	if e.orders != nil {
		id, err := e.orders.PlaceOrder(ctx, item, quantity)
		if err != nil {
			// The sentinel id flows into the confirmation prompt; order
			// placement failure is not fatal to the session.
			e.logger.Error("order placement failed", "item", item, "quantity", quantity, "error", err)
			orderID = OrderErrorID
		} else if id != "" {
			orderID = id
		}
	}

	return fmt.Sprintf(
		"The user said: %q. An order for %d x %s was submitted with order id %s. "+
			"Write a short, friendly spoken confirmation for the user.",
		transcript, quantity, item, orderID)
}

func (e *Engine) generate(sess *session, prompt string) {
	if e.generator == nil {
		e.handleDelta(sess, generationApology)
		return
	}

	err := e.generator.Generate(sess.ctx, sess.id, prompt, func(delta string) {
		e.handleDelta(sess, delta)
	})
	if err != nil {
		e.logger.Error("response generation failed", "session", sess.id, "error", err)
		e.handleDelta(sess, generationApology)
	}
}

// handleDelta forwards the delta to the client right away so text renders
// before audio arrives, then feeds the segmenter and schedules any completed
// sentences for synthesis.
func (e *Engine) handleDelta(sess *session, delta string) {
	if delta == "" {
		return
	}

	e.emit(sess, newTextChunkEvent(delta))

	sess.mu.Lock()
	sentences := sess.segments.Accumulate(delta)
	sess.mu.Unlock()

	for _, sentence := range sentences {
		e.scheduleSentence(sess, sentence)
	}
}

// Order extraction is deliberate keyword matching against a fixed
// vocabulary, not NLP; anything outside it falls back to a generic item and
// a quantity of one.
var orderVocabulary = []string{"apple", "banana", "orange", "phone", "laptop"}

var quantityVocabulary = []struct {
	word     string
	quantity int
}{
	{"three", 3}, {"3", 3},
	{"two", 2}, {"2", 2},
	{"one", 1}, {"1", 1},
}

func extractOrder(transcript string) (item string, quantity int) {
	words := strings.FieldsFunc(strings.ToLower(transcript), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	item = "item"
	for _, candidate := range orderVocabulary {
		if matchWord(words, candidate, true) {
			item = candidate
			break
		}
	}

	quantity = 1
	for _, candidate := range quantityVocabulary {
		if matchWord(words, candidate.word, false) {
			quantity = candidate.quantity
			break
		}
	}

	return item, quantity
}

// matchWord requires whole-word equality so vocabulary entries never match
// inside longer words ("one" must not match "phone").
func matchWord(words []string, candidate string, allowPlural bool) bool {
	for _, word := range words {
		if word == candidate {
			return true
		}
		if allowPlural && word == candidate+"s" {
			return true
		}
	}
	return false
}
